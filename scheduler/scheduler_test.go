package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/buffer"
	"github.com/mklimuk/newjoy/i2c/i2ctest"
	"github.com/mklimuk/newjoy/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tc74 registers: temperature at 0x00, config (DATA_RDY) at 0x01
func attachTC74(bus *i2ctest.Bus, address, temp byte) {
	bus.Attach(address, i2ctest.NewDevice(map[byte]byte{0x00: temp, 0x01: 0x40}))
}

func newScheduler(t *testing.T, capacity, size int, opts ...Option) (*Scheduler, *buffer.Buffer) {
	buf, err := buffer.New(size)
	require.NoError(t, err)
	s, err := New(capacity, buf, opts...)
	require.NoError(t, err)
	return s, buf
}

func TestNew(t *testing.T) {
	buf, err := buffer.New(buffer.DefaultSize)
	require.NoError(t, err)
	_, err = New(0, buf)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = New(DefaultCapacity, nil)
	assert.ErrorIs(t, err, ErrNilBuffer)
}

func TestAddTask_RangeConflict(t *testing.T) {
	bus := i2ctest.NewBus()
	attachTC74(bus, 0x48, 20)
	attachTC74(bus, 0x49, 21)
	attachTC74(bus, 0x4A, 22)
	s, _ := newScheduler(t, 2, 8)
	ctx := context.Background()

	h0, err := s.AddTask(ctx, bus, 0x48, task.TC74, 0)
	require.NoError(t, err)
	h1, err := s.AddTask(ctx, bus, 0x49, task.TC74, 4)
	require.NoError(t, err)
	assert.Equal(t, Handle(0), h0)
	assert.Equal(t, Handle(1), h1)

	_, err = s.AddTask(ctx, bus, 0x4A, task.TC74, 4)
	assert.ErrorIs(t, err, ErrRangeConflict)
	assert.ErrorIs(t, err, newjoy.ErrConfiguration)
	// rejected before the device was touched
	reads, writes := bus.Counters(0x4A)
	assert.Zero(t, reads+writes)
	assert.Equal(t, 2, s.Len())
}

func TestAddTask_Errors(t *testing.T) {
	bus := i2ctest.NewBus()
	attachTC74(bus, 0x48, 20)
	attachTC74(bus, 0x49, 20)
	bus.Attach(0x68, i2ctest.NewDevice(map[byte]byte{0x75: 0x19}))
	ctx := context.Background()

	t.Run("out of bounds", func(t *testing.T) {
		s, _ := newScheduler(t, 2, 8)
		_, err := s.AddTask(ctx, bus, 0x48, task.TC74, 6)
		assert.ErrorIs(t, err, buffer.ErrOutOfBounds)
		_, err = s.AddTask(ctx, bus, 0x48, task.TC74, -1)
		assert.ErrorIs(t, err, buffer.ErrOutOfBounds)
	})
	t.Run("table full", func(t *testing.T) {
		s, _ := newScheduler(t, 1, 8)
		_, err := s.AddTask(ctx, bus, 0x48, task.TC74, 0)
		require.NoError(t, err)
		_, err = s.AddTask(ctx, bus, 0x49, task.TC74, 4)
		assert.ErrorIs(t, err, ErrTaskTableFull)
	})
	t.Run("device not found", func(t *testing.T) {
		s, _ := newScheduler(t, 2, 8)
		_, err := s.AddTask(ctx, bus, 0x4F, task.TC74, 0)
		assert.ErrorIs(t, err, newjoy.ErrDeviceNotFound)
		assert.Zero(t, s.Len())
	})
	t.Run("identity mismatch", func(t *testing.T) {
		s, _ := newScheduler(t, 2, buffer.DefaultSize)
		_, err := s.AddTask(ctx, bus, 0x68, task.MPU6050, 0)
		assert.ErrorIs(t, err, newjoy.ErrIdentityMismatch)
		assert.Zero(t, s.Len())
	})
	t.Run("unknown kind", func(t *testing.T) {
		s, _ := newScheduler(t, 2, 8)
		_, err := s.AddTask(ctx, bus, 0x48, task.Kind(99), 0)
		assert.ErrorIs(t, err, task.ErrUnknownKind)
	})
	t.Run("invalid interval", func(t *testing.T) {
		s, _ := newScheduler(t, 2, 8)
		_, err := s.AddTask(ctx, bus, 0x48, task.TC74, 0, WithInterval(Ticks(0)))
		assert.ErrorIs(t, err, ErrInvalidInterval)
	})
}

func TestSync_WritesRecords(t *testing.T) {
	bus := i2ctest.NewBus()
	attachTC74(bus, 0x48, 20)
	attachTC74(bus, 0x49, 0xF6) // -10
	s, buf := newScheduler(t, DefaultCapacity, buffer.DefaultSize)
	ctx := context.Background()

	_, err := s.AddTask(ctx, bus, 0x48, task.TC74, 0)
	require.NoError(t, err)
	_, err = s.AddTask(ctx, bus, 0x49, task.TC74, 16)
	require.NoError(t, err)

	require.NoError(t, s.Sync(ctx))
	values, err := buf.Float32s(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{20}, values)
	values, err = buf.Float32s(16, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{-10}, values)

	// bytes outside registered ranges stay zero
	gap, err := buf.Read(4, 12)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 12), gap)
	assert.Equal(t, uint64(1), s.Ticks())
}

func TestSync_TickInterval(t *testing.T) {
	for _, k := range []int{1, 2, 3, 5} {
		bus := i2ctest.NewBus()
		attachTC74(bus, 0x48, 20)
		attachTC74(bus, 0x49, 30)
		s, buf := newScheduler(t, 2, 8)
		ctx := context.Background()
		_, err := s.AddTask(ctx, bus, 0x48, task.TC74, 0, WithInterval(Ticks(k)))
		require.NoError(t, err)
		_, err = s.AddTask(ctx, bus, 0x49, task.TC74, 4)
		require.NoError(t, err)

		const n = 17
		before := buf.Version()
		for range n {
			require.NoError(t, s.Sync(ctx))
		}
		stats := s.Stats()
		assert.Equal(t, uint64(n/k), stats[0].Polls, "interval %d", k)
		assert.Equal(t, uint64(n), stats[1].Polls)
		// every poll is exactly one buffer write
		assert.Equal(t, uint64(n/k+n), buf.Version()-before)
	}
}

func TestSync_WallClockInterval(t *testing.T) {
	now := time.Unix(1700000000, 0)
	bus := i2ctest.NewBus()
	attachTC74(bus, 0x48, 20)
	s, _ := newScheduler(t, 1, 4, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	_, err := s.AddTask(ctx, bus, 0x48, task.TC74, 0, WithInterval(Every(time.Second)))
	require.NoError(t, err)

	steps := []struct {
		advance time.Duration
		polls   uint64
	}{
		{0, 1},
		{400 * time.Millisecond, 1},
		{600 * time.Millisecond, 2},
		{999 * time.Millisecond, 2},
		{5 * time.Second, 3},
	}
	for _, step := range steps {
		now = now.Add(step.advance)
		require.NoError(t, s.Sync(ctx))
		assert.Equal(t, step.polls, s.Stats()[0].Polls)
	}
}

func TestSync_FailureLeavesRangeUntouched(t *testing.T) {
	bus := i2ctest.NewBus()
	attachTC74(bus, 0x48, 20)
	attachTC74(bus, 0x49, 30)
	s, buf := newScheduler(t, 2, 8)
	ctx := context.Background()
	_, err := s.AddTask(ctx, bus, 0x48, task.TC74, 0)
	require.NoError(t, err)
	_, err = s.AddTask(ctx, bus, 0x49, task.TC74, 4)
	require.NoError(t, err)
	require.NoError(t, s.Sync(ctx))
	snapshot, _ := buf.Snapshot()

	bus.Fail(0x48, newjoy.ErrBusBusy)
	bus.Set(0x49, 0x00, 31)
	require.NoError(t, s.Sync(ctx))
	require.NoError(t, s.Sync(ctx))

	after, _ := buf.Snapshot()
	assert.Equal(t, snapshot[:4], after[:4])
	values, err := buf.Float32s(4, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{31}, values)

	assert.Equal(t, uint64(2), s.Errors())
	stats := s.Stats()
	assert.Equal(t, uint64(2), stats[0].Failures)
	assert.ErrorIs(t, stats[0].LastError, newjoy.ErrBusBusy)
	assert.Zero(t, stats[1].Failures)

	// recovery clears the last error
	bus.Fail(0x48, nil)
	require.NoError(t, s.Sync(ctx))
	assert.NoError(t, s.Stats()[0].LastError)
}

func TestSync_Cancelled(t *testing.T) {
	bus := i2ctest.NewBus()
	attachTC74(bus, 0x48, 20)
	s, _ := newScheduler(t, 1, 4)
	_, err := s.AddTask(context.Background(), bus, 0x48, task.TC74, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Sync(ctx), context.Canceled)
	assert.Zero(t, s.Stats()[0].Polls)
}

func TestDeinit(t *testing.T) {
	bus := i2ctest.NewBus()
	attachTC74(bus, 0x48, 20)
	s, _ := newScheduler(t, 1, 4)
	ctx := context.Background()
	_, err := s.AddTask(ctx, bus, 0x48, task.TC74, 0)
	require.NoError(t, err)

	require.NoError(t, s.Deinit(ctx))
	require.NoError(t, s.Deinit(ctx))
	assert.ErrorIs(t, s.Sync(ctx), ErrNotInitialized)
	_, err = s.AddTask(ctx, bus, 0x48, task.TC74, 0)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Zero(t, s.Len())
}

func TestRun(t *testing.T) {
	bus := i2ctest.NewBus()
	attachTC74(bus, 0x48, 20)
	s, _ := newScheduler(t, 1, 4)
	_, err := s.AddTask(context.Background(), bus, 0x48, task.TC74, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx, 5*time.Millisecond))
	assert.Positive(t, s.Ticks())
}
