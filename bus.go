package newjoy

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("%w: I2C engine is busy (command not completed)", ErrTransientIO)

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is the bus transport every sensor task polls through.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// Scanner lists the 7-bit addresses that acknowledge on a bus.
type Scanner interface {
	Scan(ctx context.Context) ([]byte, error)
}

// ReadRegister sets the register pointer of the device at address and reads
// len(buffer) bytes starting there.
func ReadRegister(ctx context.Context, bus I2CBus, address, reg byte, buffer []byte) error {
	err := bus.WriteToAddr(ctx, address, []byte{reg})
	if err != nil {
		return fmt.Errorf("could not set register pointer 0x%02x: %w", reg, err)
	}
	err = bus.ReadFromAddr(ctx, address, buffer)
	if err != nil {
		return fmt.Errorf("could not read register 0x%02x: %w", reg, err)
	}
	return nil
}

// ReadRegisterByte is ReadRegister for a single byte.
func ReadRegisterByte(ctx context.Context, bus I2CBus, address, reg byte) (byte, error) {
	buf := []byte{0}
	if err := ReadRegister(ctx, bus, address, reg, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteRegister writes data to the register reg of the device at address.
func WriteRegister(ctx context.Context, bus I2CBus, address, reg byte, data ...byte) error {
	out := make([]byte, 0, len(data)+1)
	out = append(out, reg)
	out = append(out, data...)
	err := bus.WriteToAddr(ctx, address, out)
	if err != nil {
		return fmt.Errorf("could not write register 0x%02x: %w", reg, err)
	}
	return nil
}
