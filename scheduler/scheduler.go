// Package scheduler polls registered sensor tasks into a shared sample
// buffer. The caller owns the loop and drives it with Sync.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/newjoy"
	"github.com/mklimuk/newjoy/buffer"
	"github.com/mklimuk/newjoy/task"
)

// DefaultCapacity is the task table size of the firmware build.
const DefaultCapacity = 8

var (
	ErrInvalidCapacity = fmt.Errorf("%w: capacity must be positive", newjoy.ErrConfiguration)
	ErrNilBuffer       = fmt.Errorf("%w: sample buffer is required", newjoy.ErrConfiguration)
	ErrNotInitialized  = fmt.Errorf("%w: scheduler is not initialized", newjoy.ErrConfiguration)
	ErrTaskTableFull   = fmt.Errorf("%w: task table full", newjoy.ErrConfiguration)
	ErrRangeConflict   = fmt.Errorf("%w: range conflict", newjoy.ErrConfiguration)
	ErrRecordSize      = fmt.Errorf("%w: record size does not match task size", newjoy.ErrMalformedResponse)
)

// Handle identifies a registered task. Handles are assigned in registration order.
type Handle int

type slot struct {
	handle   Handle
	task     task.Task
	offset   int
	size     int
	schedule countdown
	polls    uint64
	failures uint64
	lastErr  error
}

func (s *slot) overlaps(offset, size int) bool {
	return offset < s.offset+s.size && s.offset < offset+size
}

// TaskStats describes one registered task.
type TaskStats struct {
	Handle    Handle
	Kind      task.Kind
	Address   byte
	Offset    int
	Size      int
	Interval  string
	Polls     uint64
	Failures  uint64
	LastError error
}

type Scheduler struct {
	mx       sync.Mutex
	capacity int
	buf      *buffer.Buffer
	slots    []*slot
	ticks    uint64
	failed   uint64
	now      func() time.Time
}

type Option func(*Scheduler)

// WithClock replaces time.Now for wall-clock intervals.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New initializes a scheduler with room for capacity tasks writing into buf.
func New(capacity int, buf *buffer.Buffer, opts ...Option) (*Scheduler, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if buf == nil {
		return nil, ErrNilBuffer
	}
	s := &Scheduler{
		capacity: capacity,
		buf:      buf,
		slots:    make([]*slot, 0, capacity),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type taskConfig struct {
	interval Interval
	probe    []task.Option
}

type TaskOption func(*taskConfig)

func WithInterval(i Interval) TaskOption {
	return func(c *taskConfig) {
		c.interval = i
	}
}

// WithProbe passes driver options to the task constructor.
func WithProbe(opts ...task.Option) TaskOption {
	return func(c *taskConfig) {
		c.probe = append(c.probe, opts...)
	}
}

// AddTask registers a sensor of the given kind at address and reserves
// [offset, offset+kind.Size()) of the buffer for it. Range and capacity
// checks run before the device is probed.
func (s *Scheduler) AddTask(ctx context.Context, bus newjoy.I2CBus, address byte, kind task.Kind, offset int, opts ...TaskOption) (Handle, error) {
	conf := taskConfig{interval: Ticks(1)}
	for _, opt := range opts {
		opt(&conf)
	}
	if err := conf.interval.validate(); err != nil {
		return 0, err
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("%v: %w", kind, task.ErrUnknownKind)
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	if s.buf == nil {
		return 0, ErrNotInitialized
	}
	size := kind.Size()
	if err := s.buf.Check(offset, size); err != nil {
		return 0, fmt.Errorf("%v at %d: %w", kind, offset, err)
	}
	for _, other := range s.slots {
		if other.overlaps(offset, size) {
			return 0, fmt.Errorf("%v [%d,%d) overlaps %v [%d,%d): %w",
				kind, offset, offset+size, other.task.Kind(), other.offset, other.offset+other.size, ErrRangeConflict)
		}
	}
	if len(s.slots) >= s.capacity {
		return 0, fmt.Errorf("%d tasks: %w", s.capacity, ErrTaskTableFull)
	}

	t, err := task.New(ctx, kind, bus, address, conf.probe...)
	if err != nil {
		return 0, err
	}
	h := Handle(len(s.slots))
	s.slots = append(s.slots, &slot{
		handle:   h,
		task:     t,
		offset:   offset,
		size:     size,
		schedule: newCountdown(conf.interval),
	})
	slog.Debug("task registered", "kind", kind, "address", fmt.Sprintf("0x%02x", address), "offset", offset, "size", size, "interval", conf.interval)
	return h, nil
}

// Sync runs one scheduling pass. Due tasks are polled in registration
// order; a successful poll replaces the task's whole buffer range, a failed
// one leaves it untouched and is only counted. Errors are returned only for
// a deinitialized scheduler or a cancelled context.
func (s *Scheduler) Sync(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.buf == nil {
		return ErrNotInitialized
	}
	s.ticks++
	now := s.now()
	for _, sl := range s.slots {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !sl.schedule.due(now) {
			continue
		}
		sl.polls++
		err := s.poll(ctx, sl)
		if err == nil {
			sl.lastErr = nil
			continue
		}
		sl.failures++
		sl.lastErr = err
		s.failed++
		slog.Debug("poll failed", "kind", sl.task.Kind(), "address", fmt.Sprintf("0x%02x", sl.task.Address()), "tick", s.ticks, "error", err)
	}
	return nil
}

func (s *Scheduler) poll(ctx context.Context, sl *slot) error {
	data, err := sl.task.Poll(ctx)
	if err != nil {
		return err
	}
	if len(data) != sl.size {
		return fmt.Errorf("%v returned %d bytes: %w", sl.task.Kind(), len(data), ErrRecordSize)
	}
	return s.buf.Write(sl.offset, data)
}

// Run calls Sync every period until ctx is done.
func (s *Scheduler) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				if errors.Is(err, ctx.Err()) {
					return nil
				}
				return err
			}
		}
	}
}

// Deinit closes every task and detaches the buffer. Calling it again is a no-op.
func (s *Scheduler) Deinit(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.buf == nil {
		return nil
	}
	var errs []error
	for _, sl := range s.slots {
		if err := sl.task.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%v: %w", sl.task.Kind(), err))
		}
	}
	s.slots = nil
	s.buf = nil
	return errors.Join(errs...)
}

// Ticks returns the number of Sync passes run so far.
func (s *Scheduler) Ticks() uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.ticks
}

// Errors returns the total number of failed polls.
func (s *Scheduler) Errors() uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.failed
}

func (s *Scheduler) Len() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.slots)
}

func (s *Scheduler) Stats() []TaskStats {
	s.mx.Lock()
	defer s.mx.Unlock()
	out := make([]TaskStats, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, TaskStats{
			Handle:    sl.handle,
			Kind:      sl.task.Kind(),
			Address:   sl.task.Address(),
			Offset:    sl.offset,
			Size:      sl.size,
			Interval:  sl.schedule.interval.String(),
			Polls:     sl.polls,
			Failures:  sl.failures,
			LastError: sl.lastErr,
		})
	}
	return out
}
