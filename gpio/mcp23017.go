package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/radio"
)

const DefaultMCP23017Address = 0x21

type Port int

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

type register int

const (
	iodir register = iota
	ipol
	gpinten
	defval
	intcon
	iocon
	gppu
	intf
	intcap
	gpio
	olat
)

// register addresses per IOCON.BANK setting; index 0 is port A, 1 is port B
var bankAddr = [2]map[register][2]byte{
	{
		iodir:   {0x00, 0x01},
		ipol:    {0x02, 0x03},
		gpinten: {0x04, 0x05},
		defval:  {0x06, 0x07},
		intcon:  {0x08, 0x09},
		iocon:   {0x0A, 0x0B},
		gppu:    {0x0C, 0x0D},
		intf:    {0x0E, 0x0F},
		intcap:  {0x10, 0x11},
		gpio:    {0x12, 0x13},
		olat:    {0x14, 0x15},
	},
	{
		iodir:   {0x00, 0x10},
		ipol:    {0x01, 0x11},
		gpinten: {0x02, 0x12},
		defval:  {0x03, 0x13},
		intcon:  {0x04, 0x14},
		iocon:   {0x05, 0x15},
		gppu:    {0x06, 0x16},
		intf:    {0x07, 0x17},
		intcap:  {0x08, 0x18},
		gpio:    {0x09, 0x19},
		olat:    {0x0A, 0x1A},
	},
}

var ErrInvalidPin = fmt.Errorf("%w: invalid expander pin", newjoy.ErrConfiguration)

/*
	Steps to read GPIO:

1. Set 0xFF to IODIR registry (all inputs) - 0x00(A)/0x01(B)
2. Configure pull-up? 0x06
3. Read port register 0x09
*/
type MCP23017 struct {
	mx         sync.Mutex
	transport  newjoy.I2CBus
	bank       int
	address    byte
	retryLimit int
	latch      [2]byte
}

func NewMCP23017(bus newjoy.I2CBus, address byte) *MCP23017 {
	return &MCP23017{retryLimit: 2, transport: bus, address: address}
}

// retry runs op, releasing the bus and trying again while the bus engine
// reports it is busy.
func (m *MCP23017) retry(ctx context.Context, what string, op func() error) error {
	var err error
	for i := m.retryLimit; i > 0; i-- {
		err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, newjoy.ErrBusBusy) {
			return fmt.Errorf("mcp23017: could not %s: %w", what, err)
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return fmt.Errorf("mcp23017: could not %s (retry limit reached): %w", what, err)
}

func (m *MCP23017) reg(r register, p Port) byte {
	return bankAddr[m.bank][r][p]
}

func (m *MCP23017) write(ctx context.Context, what string, r register, p Port, val byte) error {
	return m.retry(ctx, fmt.Sprintf("%s on port %v", what, p), func() error {
		m.mx.Lock()
		defer m.mx.Unlock()
		return m.transport.WriteToAddr(ctx, m.address, []byte{m.reg(r, p), val})
	})
}

func (m *MCP23017) read(ctx context.Context, what string, r register, p Port) (byte, error) {
	var res byte
	err := m.retry(ctx, fmt.Sprintf("%s on port %v", what, p), func() error {
		m.mx.Lock()
		defer m.mx.Unlock()
		var err error
		res, err = newjoy.ReadRegisterByte(ctx, m.transport, m.address, m.reg(r, p))
		return err
	})
	return res, err
}

// Init sets the IODIR register of a port; a set bit makes the line an input.
func (m *MCP23017) Init(ctx context.Context, p Port, inout byte) error {
	return m.write(ctx, "set direction", iodir, p, inout)
}

// PullUp enables the 100k pull-up resistors of a port.
func (m *MCP23017) PullUp(ctx context.Context, p Port, settings byte) error {
	return m.write(ctx, "set pull-up", gppu, p, settings)
}

func (m *MCP23017) ReadPort(ctx context.Context, p Port) (byte, error) {
	return m.read(ctx, "read gpio", gpio, p)
}

// Read returns the levels of port A and port B.
func (m *MCP23017) Read(ctx context.Context) ([]byte, error) {
	res := make([]byte, 2)
	for _, p := range []Port{PortA, PortB} {
		v, err := m.ReadPort(ctx, p)
		if err != nil {
			return nil, err
		}
		res[p] = v
	}
	return res, nil
}

// ReadSettings reads the IOCON register.
func (m *MCP23017) ReadSettings(ctx context.Context, p Port) (byte, error) {
	return m.read(ctx, "read settings", iocon, p)
}

func (m *MCP23017) WriteSettings(ctx context.Context, p Port, settings byte) error {
	return m.write(ctx, "write settings", iocon, p, settings)
}

// WritePort sets the output latch of a port.
func (m *MCP23017) WritePort(ctx context.Context, p Port, val byte) error {
	if err := m.write(ctx, "write latch", olat, p, val); err != nil {
		return err
	}
	m.mx.Lock()
	m.latch[p] = val
	m.mx.Unlock()
	return nil
}

// SetBit drives a single output line, keeping the other latched levels.
func (m *MCP23017) SetBit(ctx context.Context, p Port, bit int, high bool) error {
	if bit < 0 || bit > 7 || (p != PortA && p != PortB) {
		return fmt.Errorf("%w: %v%d", ErrInvalidPin, p, bit)
	}
	m.mx.Lock()
	val := m.latch[p] &^ (1 << bit)
	if high {
		val |= 1 << bit
	}
	m.mx.Unlock()
	return m.WritePort(ctx, p, val)
}

// Pin is a single expander output usable as the radio chip enable line.
type Pin struct {
	dev  *MCP23017
	port Port
	bit  int
}

// Pin configures the line as an output and returns it.
func (m *MCP23017) Pin(ctx context.Context, p Port, bit int) (*Pin, error) {
	if bit < 0 || bit > 7 || (p != PortA && p != PortB) {
		return nil, fmt.Errorf("%w: %v%d", ErrInvalidPin, p, bit)
	}
	dir, err := m.read(ctx, "read direction", iodir, p)
	if err != nil {
		return nil, err
	}
	if err := m.write(ctx, "set direction", iodir, p, dir&^(1<<bit)); err != nil {
		return nil, err
	}
	latch, err := m.read(ctx, "read latch", olat, p)
	if err != nil {
		return nil, err
	}
	m.mx.Lock()
	m.latch[p] = latch
	m.mx.Unlock()
	return &Pin{dev: m, port: p, bit: bit}, nil
}

func (p *Pin) Out(l radio.Level) error {
	return p.dev.SetBit(context.Background(), p.port, p.bit, l == radio.High)
}

func (p *Pin) String() string {
	return fmt.Sprintf("mcp23017@0x%02x/%v%d", p.dev.address, p.port, p.bit)
}
