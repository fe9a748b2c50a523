package i2c

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/newjoy/i2c/i2ctest"
)

func TestScan(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.Attach(0x76, i2ctest.NewDevice(nil))
	bus.Attach(0x40, i2ctest.NewDevice(nil))
	bus.Attach(0x03, i2ctest.NewDevice(nil)) // reserved range is not probed

	found, err := scan(context.Background(), bus)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x76}, found)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = scan(ctx, bus)
	assert.ErrorIs(t, err, context.Canceled)
}
