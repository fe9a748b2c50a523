package adapter

import (
	"context"
	"fmt"

	"github.com/mklimuk/newjoy/radio"
)

// GPIOCount is the number of general purpose lines (GP0-GP3).
const GPIOCount = 4

var ErrInvalidGPIO = fmt.Errorf("%w: MCP2221 has GP0 to GP3", ErrCommandUnsupported)

type Direction byte

const (
	Output Direction = 0x00
	Input  Direction = 0x01
	// NotGPIO is reported for a line assigned to a dedicated or alternate
	// function.
	NotGPIO Direction = 0xEE
)

func (d Direction) String() string {
	switch d {
	case Output:
		return "output"
	case Input:
		return "input"
	}
	return "function"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Designation selects what a GP line does. 0 is plain GPIO; the meaning of
// the other values depends on the line (LED, clock output, ADC, DAC...).
type Designation byte

const GPIOOperation Designation = 0

type GPIOValue struct {
	Direction Direction `yaml:"direction"`
	Level     byte      `yaml:"level"`
}

// GPIOSetting is the power-up configuration of a line stored in flash.
type GPIOSetting struct {
	Designation Designation `yaml:"designation"`
	Direction   Direction   `yaml:"direction"`
	Level       byte        `yaml:"level"`
}

const (
	cmdSetGPIO       = 0x50
	cmdGetGPIO       = 0x51
	cmdReadFlash     = 0xB0
	cmdWriteFlash    = 0xB1
	flashGPSettings  = 0x01
	settingLevelBit  = 1 << 4
	settingInputBit  = 1 << 3
	settingDesignMsk = 0x07
)

// ReadGPIO returns the current direction and level of every line.
func (d *MCP2221) ReadGPIO(ctx context.Context, id ...int) ([GPIOCount]GPIOValue, error) {
	var res [GPIOCount]GPIOValue
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdGetGPIO
	if err := d.send(ctx, true, id...); err != nil {
		return res, fmt.Errorf("get GPIO values: %w", err)
	}
	if d.response[1] != 0x00 {
		return res, ErrCommandFailed
	}
	for i := range res {
		res[i] = GPIOValue{Level: d.response[2+2*i], Direction: Direction(d.response[3+2*i])}
		if res[i].Direction == NotGPIO {
			res[i].Level = 0
		}
	}
	return res, nil
}

// SetGPIO drives line gp as an output.
func (d *MCP2221) SetGPIO(ctx context.Context, gp int, high bool, id ...int) error {
	if gp < 0 || gp >= GPIOCount {
		return fmt.Errorf("GP%d: %w", gp, ErrInvalidGPIO)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdSetGPIO
	// per line: alter output, output value, alter direction, direction
	off := 2 + 4*gp
	d.request[off] = 0x01
	if high {
		d.request[off+1] = 0x01
	}
	d.request[off+2] = 0x01
	d.request[off+3] = byte(Output)
	if err := d.send(ctx, true, id...); err != nil {
		return fmt.Errorf("set GP%d: %w", gp, err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

// GPIOSettings reads the power-up configuration from flash.
func (d *MCP2221) GPIOSettings(ctx context.Context) ([GPIOCount]GPIOSetting, error) {
	var res [GPIOCount]GPIOSetting
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdReadFlash
	d.request[1] = flashGPSettings
	if err := d.send(ctx, true); err != nil {
		return res, fmt.Errorf("read GP settings: %w", err)
	}
	if d.response[1] != 0x00 {
		return res, ErrCommandUnsupported
	}
	for i := range res {
		b := d.response[4+i]
		res[i].Designation = Designation(b & settingDesignMsk)
		res[i].Direction = Output
		if b&settingInputBit != 0 {
			res[i].Direction = Input
		}
		if b&settingLevelBit != 0 {
			res[i].Level = 1
		}
	}
	return res, nil
}

// WriteGPIOSettings stores the power-up configuration in flash.
func (d *MCP2221) WriteGPIOSettings(ctx context.Context, settings [GPIOCount]GPIOSetting) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdWriteFlash
	d.request[1] = flashGPSettings
	for i, s := range settings {
		b := byte(s.Designation) & settingDesignMsk
		if s.Direction == Input {
			b |= settingInputBit
		}
		if s.Level != 0 {
			b |= settingLevelBit
		}
		d.request[2+i] = b
	}
	if err := d.send(ctx, true); err != nil {
		return fmt.Errorf("write GP settings: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

// GPIOLine is one GP line used as an output, for instance a radio chip
// enable.
type GPIOLine struct {
	dev *MCP2221
	gp  int
}

func (d *MCP2221) GPIOLine(gp int) (*GPIOLine, error) {
	if gp < 0 || gp >= GPIOCount {
		return nil, fmt.Errorf("GP%d: %w", gp, ErrInvalidGPIO)
	}
	return &GPIOLine{dev: d, gp: gp}, nil
}

func (l *GPIOLine) Out(level radio.Level) error {
	return l.dev.SetGPIO(context.Background(), l.gp, level == radio.High)
}

func (l *GPIOLine) String() string {
	return fmt.Sprintf("mcp2221/GP%d", l.gp)
}
