package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

var (
	ErrCommandUnsupported = fmt.Errorf("%w: unsupported command", newjoy.ErrDevice)
	ErrCommandFailed      = fmt.Errorf("%w: command failed", newjoy.ErrDevice)
	ErrAdapterNotFound    = fmt.Errorf("%w: MCP2221 adapter", newjoy.ErrDeviceNotFound)
	ErrAmbiguousAdapter   = fmt.Errorf("%w: several MCP2221 adapters, pass an id", newjoy.ErrConfiguration)
	ErrReadFailed         = fmt.Errorf("%w: I2C engine could not read slave data", newjoy.ErrTransientIO)
)

var _ newjoy.I2CBus = &MCP2221{}
var _ newjoy.Scanner = &MCP2221{}

// HIDDevice is an open HID handle exchanging 64 byte reports.
type HIDDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Opener opens the adapter; id selects one of several attached adapters.
type Opener func(id ...int) (HIDDevice, error)

type MCP2221 struct {
	mx           sync.Mutex
	open         Opener
	request      []byte
	response     []byte
	responseWait time.Duration
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"requested_size"`
	LastWriteSentSize      uint16 `yaml:"sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

type MCP2221Opt func(*MCP2221)

// WithOpener replaces USB enumeration, mostly for tests.
func WithOpener(o Opener) MCP2221Opt {
	return func(d *MCP2221) { d.open = o }
}

func WithResponseWait(wait time.Duration) MCP2221Opt {
	return func(d *MCP2221) { d.responseWait = wait }
}

func NewMCP2221(opts ...MCP2221Opt) *MCP2221 {
	d := &MCP2221{
		open:         openHID,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func openHID(id ...int) (HIDDevice, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, ErrAdapterNotFound
	}
	idx := 0
	if len(id) > 0 {
		idx = id[0]
	} else if len(devs) > 1 {
		return nil, ErrAmbiguousAdapter
	}
	if idx < 0 || idx >= len(devs) {
		return nil, fmt.Errorf("%w: no adapter with id %d", ErrAdapterNotFound, idx)
	}
	dev, err := devs[idx].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x90
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	if len(buffer) > 0 {
		copy(d.request[4:], buffer)
	}
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("write to 0x%02x failed: %w", address, err)
	}
	// write could not be performed
	if d.response[1] == 0x01 {
		slog.Debug("adapter busy", "address", address)
		return newjoy.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x91
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("bus read from 0x%02x failed: %w", address, err)
	}
	if d.response[1] == 0x01 {
		return newjoy.ErrBusBusy
	}
	d.request[0] = 0x40
	clear(d.response)
	err = d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == 0x41 {
		return fmt.Errorf("read from 0x%02x: %w", address, ErrReadFailed)
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("%w: invalid data size byte; expected %d, got %d", newjoy.ErrMalformedResponse, len(buffer), d.response[3])
	}

	copy(buffer, d.response[4:])
	return nil
}

// Scan probes every 7-bit address with a one byte read. The I2C engine
// keeps a NACK state, so the bus is released after each miss.
func (d *MCP2221) Scan(ctx context.Context) ([]byte, error) {
	var found []byte
	buf := make([]byte, 1)
	for addr := byte(0x08); addr < 0x78; addr++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		err := d.ReadFromAddr(ctx, addr, buf)
		if err == nil {
			found = append(found, addr)
			continue
		}
		slog.Debug("no answer", "address", addr, "error", err)
		if err := d.Release(ctx); err != nil {
			return found, fmt.Errorf("could not release bus after probing 0x%02x: %w", addr, err)
		}
	}
	return found, nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = 0x10
	err := d.send(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

// bufferToStatus decodes the status/set parameters response: bytes 9-12
// hold the requested and already sent transfer lengths, 13-15 the engine
// buffer counter, speed divider and timeout, 16-17 the current address.
func bufferToStatus(buffer []byte) *MCP2221Status {
	return &MCP2221Status{
		I2CDataBufferCounter:   int(buffer[13]),
		I2CSpeedDivider:        int(buffer[14]),
		I2CTimeout:             int(buffer[15]),
		CurrentAddress:         hex.EncodeToString(buffer[16:18]),
		LastWriteRequestedSize: binary.LittleEndian.Uint16(buffer[9:11]),
		LastWriteSentSize:      binary.LittleEndian.Uint16(buffer[11:13]),
		ReadPending:            int(buffer[25]),
	}
}

func (d *MCP2221) Release(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	_, err := d.releaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.releaseBus(ctx)
}

func (d *MCP2221) releaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = 0x10
	d.request[2] = 0x10
	err := d.send(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context, response bool, id ...int) error {
	dev, err := d.open(id...)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Debug("could not close adapter", "error", err)
		}
	}()
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "report", "\n"+hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("%w: could not write request: %w", newjoy.ErrTransientIO, err)
	}
	if n != reportSize {
		return fmt.Errorf("%w: short write: %d", newjoy.ErrTransientIO, n)
	}
	if !response {
		return nil
	}
	if d.responseWait > 0 {
		time.Sleep(d.responseWait)
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("%w: could not read response: %w", newjoy.ErrTransientIO, err)
	}
	if n != reportSize {
		return fmt.Errorf("%w: short read: %d", newjoy.ErrMalformedResponse, n)
	}
	if verbose {
		slog.Debug("read message from adapter", "report", "\n"+hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
