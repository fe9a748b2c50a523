package gpio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/i2c/i2ctest"
	"github.com/mklimuk/newjoy/radio"
)

type busyBus struct {
	*i2ctest.Bus
	busy     int
	released int
}

func (b *busyBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if b.busy > 0 {
		b.busy--
		return newjoy.ErrBusBusy
	}
	return b.Bus.WriteToAddr(ctx, address, buffer)
}

func (b *busyBus) Release(ctx context.Context) error {
	b.released++
	return nil
}

func newExpander() (*i2ctest.Bus, *MCP23017) {
	bus := i2ctest.NewBus()
	bus.Attach(DefaultMCP23017Address, i2ctest.NewDevice(map[byte]byte{
		0x00: 0xFF, 0x01: 0xFF,
		0x12: 0xA5, 0x13: 0x3C,
	}))
	return bus, NewMCP23017(bus, DefaultMCP23017Address)
}

func TestRead(t *testing.T) {
	_, m := newExpander()
	res, err := m.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA5, 0x3C}, res)
}

func TestInitAndPullUp(t *testing.T) {
	bus, m := newExpander()
	ctx := context.Background()
	require.NoError(t, m.Init(ctx, PortB, 0xF0))
	require.NoError(t, m.PullUp(ctx, PortA, 0x0F))
	require.NoError(t, m.WriteSettings(ctx, PortA, 0x20))
	assert.Equal(t, byte(0xF0), bus.Reg(DefaultMCP23017Address, 0x01))
	assert.Equal(t, byte(0x0F), bus.Reg(DefaultMCP23017Address, 0x0C))
	s, err := m.ReadSettings(ctx, PortA)
	require.NoError(t, err)
	assert.Equal(t, byte(0x20), s)
}

func TestPin(t *testing.T) {
	bus, m := newExpander()
	pin, err := m.Pin(context.Background(), PortA, 3)
	require.NoError(t, err)
	assert.Equal(t, byte(0xF7), bus.Reg(DefaultMCP23017Address, 0x00), "pin switched to output")

	var ce radio.Pin = pin
	require.NoError(t, ce.Out(radio.High))
	assert.Equal(t, byte(0x08), bus.Reg(DefaultMCP23017Address, 0x14))
	require.NoError(t, m.SetBit(context.Background(), PortA, 0, true))
	assert.Equal(t, byte(0x09), bus.Reg(DefaultMCP23017Address, 0x14))
	require.NoError(t, ce.Out(radio.Low))
	assert.Equal(t, byte(0x01), bus.Reg(DefaultMCP23017Address, 0x14))
	assert.Equal(t, "mcp23017@0x21/A3", pin.String())

	_, err = m.Pin(context.Background(), PortB, 8)
	assert.ErrorIs(t, err, ErrInvalidPin)
}

func TestBusyRetry(t *testing.T) {
	bus, _ := newExpander()
	busy := &busyBus{Bus: bus, busy: 1}
	m := NewMCP23017(busy, DefaultMCP23017Address)
	require.NoError(t, m.Init(context.Background(), PortA, 0x00))
	assert.Equal(t, 1, busy.released)

	busy.busy = 5
	err := m.Init(context.Background(), PortA, 0x00)
	assert.ErrorIs(t, err, newjoy.ErrBusBusy)
	assert.Contains(t, err.Error(), "retry limit reached")
	assert.Equal(t, 3, busy.busy, "one attempt per retry")

	busy.busy = 0
	bus.Fail(DefaultMCP23017Address, i2ctest.ErrNoAck)
	_, err = m.ReadPort(context.Background(), PortB)
	assert.ErrorIs(t, err, i2ctest.ErrNoAck)
	assert.NotContains(t, err.Error(), "retry limit")
}
