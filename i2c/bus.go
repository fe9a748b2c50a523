package i2c

import (
	"context"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/newjoy"
)

var _ newjoy.I2CBus = &GenericBus{}
var _ newjoy.Scanner = &GenericBus{}

// GenericBus is a Linux I2C bus opened through periph.
type GenericBus struct {
	bus i2c.BusCloser
}

// NewGenericBus opens dev, a bus name or number as understood by i2creg
// ("" picks the first bus).
func NewGenericBus(dev string) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("periph driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open i2c bus %q: %w", newjoy.ErrDeviceNotFound, dev, err)
	}
	return &GenericBus{
		bus: bus,
	}, nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("%w: could not read from 0x%02x: %w", newjoy.ErrTransientIO, address, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("%w: could not write to 0x%02x: %w", newjoy.ErrTransientIO, address, err)
	}
	return nil
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

// Scan reads one byte from every 7-bit address and returns those that ack.
func (b *GenericBus) Scan(ctx context.Context) ([]byte, error) {
	return scan(ctx, b)
}

func (b *GenericBus) String() string {
	return b.bus.String()
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}

func scan(ctx context.Context, r newjoy.AddressableReader) ([]byte, error) {
	var found []byte
	buf := make([]byte, 1)
	for addr := byte(0x08); addr < 0x78; addr++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if err := r.ReadFromAddr(ctx, addr, buf); err == nil {
			found = append(found, addr)
		}
	}
	return found, nil
}
