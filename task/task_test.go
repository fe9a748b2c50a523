package task

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/environment"
	"github.com/mklimuk/newjoy/i2c/i2ctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			parsed, err := ParseKind(k.String())
			require.NoError(t, err)
			assert.Equal(t, k, parsed)
			assert.Positive(t, k.Size())
			assert.NotZero(t, DefaultAddress(k))
		})
	}
	k, err := ParseKind(" MPU6050 ")
	require.NoError(t, err)
	assert.Equal(t, MPU6050, k)

	_, err = ParseKind("bme680")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.ErrorIs(t, err, newjoy.ErrConfiguration)
}

func TestKindText(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("tc74")))
	assert.Equal(t, TC74, k)
	text, err := k.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "tc74", string(text))

	_, err = Kind(42).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestNew_UnknownKind(t *testing.T) {
	bus := i2ctest.NewBus()
	_, err := New(context.Background(), Kind(0), bus, 0x10)
	assert.ErrorIs(t, err, ErrUnknownKind)
	reads, writes := bus.Counters(0x10)
	assert.Zero(t, reads+writes)
}

func TestNew_DeviceNotFound(t *testing.T) {
	for _, k := range []Kind{BMP280, MPU6050, TC74, BMA220, HIH6021, BH1750} {
		t.Run(k.String(), func(t *testing.T) {
			_, err := New(context.Background(), k, i2ctest.NewBus(), DefaultAddress(k))
			assert.ErrorIs(t, err, newjoy.ErrDeviceNotFound)
		})
	}
}

func TestBMP280Task(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.Attach(0x77, i2ctest.NewDevice(map[byte]byte{0xD0: 0x58, 0xF7: 0x65, 0xF8: 0x5A}))
	task, err := New(context.Background(), BMP280, bus, 0x77, WithBMP280(environment.WithResetDelay(0)))
	require.NoError(t, err)
	assert.Equal(t, BMP280, task.Kind())
	assert.Equal(t, byte(0x77), task.Address())

	out, err := task.Poll(context.Background())
	require.NoError(t, err)
	// LSB first, zero padded
	assert.Equal(t, []byte{0x5A, 0x65, 0x00, 0x00}, out)
	assert.Len(t, out, task.Size())
}

func TestBMP280Task_IdentityMismatch(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.Attach(0x76, i2ctest.NewDevice(map[byte]byte{0xD0: 0x60}))
	_, err := New(context.Background(), BMP280, bus, 0x76, WithBMP280(environment.WithResetDelay(0)))
	assert.ErrorIs(t, err, newjoy.ErrIdentityMismatch)
}

func TestMPU6050Task(t *testing.T) {
	bus := i2ctest.NewBus()
	dev := bus.Attach(0x68, i2ctest.NewDevice(map[byte]byte{0x75: 0x68}))
	// accel z = 1g at ±4g
	dev.Regs[0x3B+4] = 0x20

	task, err := New(context.Background(), MPU6050, bus, 0x68)
	require.NoError(t, err)
	out, err := task.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 24)
	floats := make([]float32, 6)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(out[4*i:]))
	}
	assert.Equal(t, []float32{0, 0, 1, 0, 0, 0}, floats)
}

func TestTC74Task(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.Attach(0x4D, i2ctest.NewDevice(map[byte]byte{0x00: 21, 0x01: 0x40}))
	task, err := New(context.Background(), TC74, bus, 0x4D)
	require.NoError(t, err)
	out, err := task.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(21), math.Float32frombits(binary.LittleEndian.Uint32(out)))
	assert.NoError(t, task.Close(context.Background()))
}

func TestBMA220Task(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.Attach(0x0A, i2ctest.NewDevice(map[byte]byte{0x00: 0xDD}))
	task, err := New(context.Background(), BMA220, bus, 0x0A)
	require.NoError(t, err)

	bus.Set(0x0A, 0x18, 0x01)
	out, err := task.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0}, out)
	// latch reset written
	assert.Equal(t, byte(0b11110000), bus.Reg(0x0A, 0x1C))
}

func TestPollFailure(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.Attach(0x4D, i2ctest.NewDevice(map[byte]byte{0x01: 0x40}))
	task, err := New(context.Background(), TC74, bus, 0x4D)
	require.NoError(t, err)
	bus.Fail(0x4D, newjoy.ErrBusBusy)
	_, err = task.Poll(context.Background())
	assert.ErrorIs(t, err, newjoy.ErrTransientIO)
}

func TestKindFormat(t *testing.T) {
	tests := []struct {
		kind   Kind
		record []byte
		want   string
	}{
		{BMP280, putUint32(0x1234), "pressure=4660 raw"},
		{SHTC3, putFloats(21.5, 40.3), "temp=21.50°C hum=40.3%"},
		{TC74, putFloats(-3), "temp=-3°C"},
		{BH1750, putUint32(512), "light=512lx"},
		{BMA220, putUint32(1), "motion=1"},
		{AGS02MA, putUint32(87), "tvoc=87ppb"},
		{MPU6050, putFloats(0, 0, 1, 0.5, 0, -0.5), "accel=[0.000 0.000 1.000]g gyro=[0.50 0.00 -0.50]°/s"},
		{TC74, []byte{1}, "tc74: invalid record 01"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Format(tt.record))
		})
	}
}
