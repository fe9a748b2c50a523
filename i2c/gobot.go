package i2c

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/newjoy"
)

var _ newjoy.I2CBus = &GobotBus{}
var _ newjoy.Scanner = &GobotBus{}

// GobotBus talks to I2C devices through a gobot adaptor such as the NanoPi
// NEO. A generic driver is started per address on first use.
type GobotBus struct {
	mx      sync.Mutex
	adaptor i2c.Connector
	bus     int
	drivers map[byte]*i2c.GenericDriver
}

// NewGobotBus uses the given bus number of a connected adaptor.
func NewGobotBus(adaptor i2c.Connector, bus int) *GobotBus {
	return &GobotBus{adaptor: adaptor, bus: bus, drivers: make(map[byte]*i2c.GenericDriver)}
}

func (b *GobotBus) driver(address byte) (*i2c.GenericDriver, error) {
	if d, ok := b.drivers[address]; ok {
		return d, nil
	}
	d := i2c.NewGenericDriver(b.adaptor, fmt.Sprintf("i2c-0x%02x", address), int(address), func(c i2c.Config) {
		c.SetBus(b.bus)
	})
	if err := d.Start(); err != nil {
		return nil, fmt.Errorf("%w: could not start driver for 0x%02x: %w", newjoy.ErrDeviceNotFound, address, err)
	}
	b.drivers[address] = d
	return d, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	d, err := b.driver(address)
	if err != nil {
		return err
	}
	if err := d.Read(buffer); err != nil {
		return fmt.Errorf("%w: could not read from 0x%02x: %w", newjoy.ErrTransientIO, address, err)
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	d, err := b.driver(address)
	if err != nil {
		return err
	}
	if err := d.Write(buffer); err != nil {
		return fmt.Errorf("%w: could not write to 0x%02x: %w", newjoy.ErrTransientIO, address, err)
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Scan probes every address with a one byte read. Drivers for silent
// addresses are halted again.
func (b *GobotBus) Scan(ctx context.Context) ([]byte, error) {
	found, err := scan(ctx, b)
	b.mx.Lock()
	defer b.mx.Unlock()
	for addr, d := range b.drivers {
		if !slices.Contains(found, addr) {
			_ = d.Halt()
			delete(b.drivers, addr)
		}
	}
	return found, err
}

// Close halts every started driver.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var errs []error
	for addr, d := range b.drivers {
		errs = append(errs, d.Halt())
		delete(b.drivers, addr)
	}
	return errors.Join(errs...)
}
