package environment

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/i2c/i2ctest"
)

func TestBH1750_GetLux(t *testing.T) {
	bus := i2ctest.NewBus()
	var ops []byte
	bus.Attach(BH1750AddrLow, &i2ctest.Device{
		OnWrite: func(data []byte) error {
			ops = append(ops, data...)
			return nil
		},
		OnRead: func(reg byte, buf []byte) error {
			copy(buf, []byte{0x01, 0x2C}) // 300 counts
			return nil
		},
	})
	sensor := NewBH1750(bus, BH1750AddrLow)
	sensor.wait = 0
	require.NoError(t, sensor.PowerOn(context.Background()))
	lux, err := sensor.GetLux(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(250), lux)
	assert.Equal(t, []byte{opCodePowerOn, opCodeSingleLowResolution}, ops)
}

func TestBH1750_Conversion(t *testing.T) {
	tests := []struct {
		counts uint16
		lux    uint32
	}{
		{0, 0},
		{6, 5},
		{12, 10},
		{600, 500},
		{0xFFFF, 54612},
	}
	for _, tt := range tests {
		bus := i2ctest.NewBus()
		bus.Attach(BH1750AddrLow, &i2ctest.Device{
			OnRead: func(reg byte, buf []byte) error {
				binary.BigEndian.PutUint16(buf, tt.counts)
				return nil
			},
		})
		sensor := NewBH1750(bus, BH1750AddrLow)
		sensor.wait = 0
		lux, err := sensor.GetLux(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.lux, lux, "counts %d", tt.counts)
	}
}

func TestBH1750_Errors(t *testing.T) {
	bus := i2ctest.NewBus()
	assert.ErrorIs(t, NewBH1750(bus, BH1750AddrHigh).PowerOn(context.Background()), newjoy.ErrDeviceNotFound)

	bus.Attach(BH1750AddrLow, i2ctest.NewDevice(nil))
	sensor := NewBH1750(bus, BH1750AddrLow)
	sensor.wait = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sensor.GetLux(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
