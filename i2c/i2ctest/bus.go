// Package i2ctest provides an in-memory I2C bus populated with register-map
// devices. Devices answer the "write register pointer, then read" sequence
// out of the box; behaviour funcs override it for command based parts.
package i2ctest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mklimuk/newjoy"
)

var ErrNoAck = fmt.Errorf("%w: address not acknowledged", newjoy.ErrTransientIO)

var _ newjoy.I2CBus = &Bus{}
var _ newjoy.Scanner = &Bus{}

// ReadBehaviorFunc fills buf for a read issued while the register pointer is reg.
type ReadBehaviorFunc func(reg byte, buf []byte) error

// WriteBehaviorFunc receives every raw write sent to the device.
type WriteBehaviorFunc func(data []byte) error

type Device struct {
	Regs [256]byte

	// OnRead and OnWrite replace the register map behaviour when set.
	OnRead  ReadBehaviorFunc
	OnWrite WriteBehaviorFunc

	// Err fails every transaction addressed to the device.
	Err error

	ptr    byte
	reads  int
	writes int
}

// NewDevice returns a device whose registers are preloaded from regs.
func NewDevice(regs map[byte]byte) *Device {
	d := &Device{}
	for reg, v := range regs {
		d.Regs[reg] = v
	}
	return d
}

type Bus struct {
	mx      sync.Mutex
	devices map[byte]*Device
	writes  [][]byte
}

func NewBus() *Bus {
	return &Bus{devices: make(map[byte]*Device)}
}

// Attach places dev at address and returns it.
func (b *Bus) Attach(address byte, dev *Device) *Device {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.devices[address] = dev
	return dev
}

func (b *Bus) Detach(address byte) {
	b.mx.Lock()
	defer b.mx.Unlock()
	delete(b.devices, address)
}

// Fail makes every transaction to address return err until cleared with nil.
func (b *Bus) Fail(address byte, err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if dev, ok := b.devices[address]; ok {
		dev.Err = err
	}
}

// Set writes a register value of the device at address.
func (b *Bus) Set(address, reg byte, values ...byte) {
	b.mx.Lock()
	defer b.mx.Unlock()
	dev, ok := b.devices[address]
	if !ok {
		return
	}
	for i, v := range values {
		dev.Regs[reg+byte(i)] = v
	}
}

// Reg reads back a register value of the device at address.
func (b *Bus) Reg(address, reg byte) byte {
	b.mx.Lock()
	defer b.mx.Unlock()
	dev, ok := b.devices[address]
	if !ok {
		return 0
	}
	return dev.Regs[reg]
}

// Counters returns the number of reads and writes the device at address served.
func (b *Bus) Counters(address byte) (reads, writes int) {
	b.mx.Lock()
	defer b.mx.Unlock()
	dev, ok := b.devices[address]
	if !ok {
		return 0, 0
	}
	return dev.reads, dev.writes
}

func (b *Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	dev, ok := b.devices[address]
	if !ok {
		return fmt.Errorf("write to 0x%02x: %w", address, ErrNoAck)
	}
	if dev.Err != nil {
		return dev.Err
	}
	dev.writes++
	b.writes = append(b.writes, append([]byte{address}, buffer...))
	if dev.OnWrite != nil {
		return dev.OnWrite(slices.Clone(buffer))
	}
	if len(buffer) == 0 {
		return nil
	}
	dev.ptr = buffer[0]
	for i, v := range buffer[1:] {
		dev.Regs[dev.ptr+byte(i)] = v
	}
	return nil
}

func (b *Bus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	dev, ok := b.devices[address]
	if !ok {
		return fmt.Errorf("read from 0x%02x: %w", address, ErrNoAck)
	}
	if dev.Err != nil {
		return dev.Err
	}
	dev.reads++
	if dev.OnRead != nil {
		return dev.OnRead(dev.ptr, buffer)
	}
	for i := range buffer {
		buffer[i] = dev.Regs[dev.ptr+byte(i)]
	}
	return nil
}

func (b *Bus) Release(ctx context.Context) error {
	return nil
}

func (b *Bus) Scan(ctx context.Context) ([]byte, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	addrs := make([]byte, 0, len(b.devices))
	for addr := range b.devices {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs, nil
}

// Writes returns every write seen by the bus, each prefixed with the target address.
func (b *Bus) Writes() [][]byte {
	b.mx.Lock()
	defer b.mx.Unlock()
	return slices.Clone(b.writes)
}
