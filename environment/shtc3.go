package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/newjoy"
	"github.com/sigurn/crc8"
)

// SHTC3 I2C address (7-bit)
const SHTC3Address = 0x70

// Commands (Big Endian on the wire)
const (
	shtc3CmdWake   uint16 = 0x3517
	shtc3CmdSleep  uint16 = 0xB098
	shtc3CmdReadID uint16 = 0xEFC8

	// Normal power, clock stretching disabled
	// Measure T first, then RH
	shtc3CmdMeasureTFirstNoCS uint16 = 0x7866

	shtc3IDMask    uint16 = 0x083F
	shtc3IDPattern uint16 = 0x0807
)

// Sensirion CRC-8, polynomial 0x31, init 0xFF
var sensirionCRC = crc8.MakeTable(crc8.Params{
	Poly:  0x31,
	Init:  0xFF,
	Check: 0xF7,
	Name:  "CRC-8/NRSC-5",
})

var ErrCRC = fmt.Errorf("%w: crc mismatch", newjoy.ErrMalformedResponse)

// SHTC3 represents Sensirion SHTC3 Temperature/Humidity sensor
// Typical usage:
//
//	s := NewSHTC3(bus, SHTC3Address)
//	t, h, err := s.GetTempAndHum(ctx)
type SHTC3 struct {
	transport newjoy.I2CBus
	address   byte
	lastTemp  float32
	lastHum   float32
}

func NewSHTC3(trans newjoy.I2CBus, address byte) *SHTC3 {
	return &SHTC3{transport: trans, address: address}
}

// ReadID wakes the sensor and returns its 16-bit ID register.
func (s *SHTC3) ReadID(ctx context.Context) (uint16, error) {
	if err := s.writeCmd(ctx, shtc3CmdWake); err != nil {
		return 0, fmt.Errorf("shtc3: wake failed: %w: %w", newjoy.ErrDeviceNotFound, err)
	}
	time.Sleep(1 * time.Millisecond)
	if err := s.writeCmd(ctx, shtc3CmdReadID); err != nil {
		return 0, fmt.Errorf("shtc3: read id command failed: %w", err)
	}
	buf := make([]byte, 3)
	if err := s.transport.ReadFromAddr(ctx, s.address, buf); err != nil {
		return 0, fmt.Errorf("shtc3: read id failed: %w", err)
	}
	if crc8.Checksum(buf[0:2], sensirionCRC) != buf[2] {
		return 0, fmt.Errorf("shtc3: id: %w", ErrCRC)
	}
	return binary.BigEndian.Uint16(buf[0:2]), nil
}

func (s *SHTC3) Probe(ctx context.Context) error {
	id, err := s.ReadID(ctx)
	if err != nil {
		return err
	}
	if id&shtc3IDMask != shtc3IDPattern {
		return fmt.Errorf("shtc3: id 0x%04x: %w", id, newjoy.ErrIdentityMismatch)
	}
	return s.writeCmd(ctx, shtc3CmdSleep)
}

// GetTempAndHum performs a single measurement and returns temperature and humidity.
func (s *SHTC3) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	if err := s.measure(ctx); err != nil {
		return 0, 0, err
	}
	return s.lastTemp, s.lastHum, nil
}

func (s *SHTC3) measure(ctx context.Context) error {
	if err := s.writeCmd(ctx, shtc3CmdWake); err != nil {
		return fmt.Errorf("shtc3: wake failed: %w", err)
	}
	// wake time < 240us
	time.Sleep(1 * time.Millisecond)

	if err := s.writeCmd(ctx, shtc3CmdMeasureTFirstNoCS); err != nil {
		return fmt.Errorf("shtc3: measure command failed: %w", err)
	}
	// typical measurement time ~12.1 ms in normal mode
	select {
	case <-time.After(15 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	// T[0:2], CRC, RH[3:5], CRC
	buf := make([]byte, 6)
	if err := s.transport.ReadFromAddr(ctx, s.address, buf); err != nil {
		return fmt.Errorf("shtc3: read failed: %w", err)
	}
	if crc8.Checksum(buf[0:2], sensirionCRC) != buf[2] {
		return fmt.Errorf("shtc3: temperature: %w", ErrCRC)
	}
	if crc8.Checksum(buf[3:5], sensirionCRC) != buf[5] {
		return fmt.Errorf("shtc3: humidity: %w", ErrCRC)
	}

	rawT := binary.BigEndian.Uint16(buf[0:2])
	rawRH := binary.BigEndian.Uint16(buf[3:5])

	// T(C) = -45 + 175 * rawT / 65535
	// RH(%) = 100 * rawRH / 65535
	s.lastTemp = -45.0 + (175.0 * float32(rawT) / 65535.0)
	s.lastHum = 100.0 * float32(rawRH) / 65535.0

	if err := s.writeCmd(ctx, shtc3CmdSleep); err != nil {
		return fmt.Errorf("shtc3: sleep failed: %w", err)
	}
	return nil
}

func (s *SHTC3) writeCmd(ctx context.Context, cmd uint16) error {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], cmd)
	return s.transport.WriteToAddr(ctx, s.address, out[:])
}
