package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/mklimuk/newjoy"
)

const BMP280DefaultAddress = 0x76

const (
	bmp280RegID       = 0xD0
	bmp280RegReset    = 0xE0
	bmp280RegCtrlMeas = 0xF4
	bmp280RegConfig   = 0xF5
	bmp280RegPressMSB = 0xF7

	bmp280ChipID    = 0x58
	bmp280ResetWord = 0xB6
)

// BMP280 represents Bosch BMP280 barometric pressure sensor.
// See: https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bmp280-ds001.pdf
//
// The driver runs the sensor in normal mode with pressure oversampling x4 and
// temperature measurement skipped. Readings are raw (uncompensated).
type BMP280 struct {
	transport  newjoy.I2CBus
	address    byte
	resetDelay time.Duration
}

type BMP280Opt func(*BMP280)

// WithResetDelay overrides the 50ms wait after soft reset.
func WithResetDelay(d time.Duration) BMP280Opt {
	return func(b *BMP280) {
		b.resetDelay = d
	}
}

func NewBMP280(trans newjoy.I2CBus, address byte, opts ...BMP280Opt) *BMP280 {
	b := &BMP280{transport: trans, address: address, resetDelay: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init verifies the chip id, resets the sensor and starts continuous
// pressure conversion.
func (b *BMP280) Init(ctx context.Context) error {
	id, err := newjoy.ReadRegisterByte(ctx, b.transport, b.address, bmp280RegID)
	if err != nil {
		return fmt.Errorf("bmp280: read id: %w: %w", newjoy.ErrDeviceNotFound, err)
	}
	if id != bmp280ChipID {
		return fmt.Errorf("bmp280: chip id 0x%02x: %w", id, newjoy.ErrIdentityMismatch)
	}
	if err = newjoy.WriteRegister(ctx, b.transport, b.address, bmp280RegReset, bmp280ResetWord); err != nil {
		return fmt.Errorf("bmp280: reset: %w", err)
	}
	select {
	case <-time.After(b.resetDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	// t_sb 0.5ms, filter off, no 3-wire SPI
	if err = newjoy.WriteRegister(ctx, b.transport, b.address, bmp280RegConfig, 0x00); err != nil {
		return fmt.Errorf("bmp280: write config: %w", err)
	}
	// osrs_t skipped, osrs_p x4, normal mode
	var ctrl byte = 0b000<<5 | 0b011<<2 | 0b11
	if err = newjoy.WriteRegister(ctx, b.transport, b.address, bmp280RegCtrlMeas, ctrl); err != nil {
		return fmt.Errorf("bmp280: write ctrl_meas: %w", err)
	}
	return nil
}

// RawPressure returns the upper 16 bits of the 20-bit pressure reading.
// The XLSB byte only carries data in the slow oversampling modes.
func (b *BMP280) RawPressure(ctx context.Context) (uint16, error) {
	buf := make([]byte, 3)
	if err := newjoy.ReadRegister(ctx, b.transport, b.address, bmp280RegPressMSB, buf); err != nil {
		return 0, fmt.Errorf("bmp280: read pressure: %w", err)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}
