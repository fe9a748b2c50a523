package scheduler

import (
	"fmt"
	"time"

	"github.com/mklimuk/newjoy"
)

var ErrInvalidInterval = fmt.Errorf("%w: invalid poll interval", newjoy.ErrConfiguration)

// Interval decides on which syncs a task is polled. Tick based intervals
// count Sync calls, wall-clock intervals compare against the scheduler clock.
type Interval struct {
	ticks  int
	period time.Duration
}

// Ticks polls on every k-th sync: N syncs poll floor(N/k) times.
func Ticks(k int) Interval {
	return Interval{ticks: k}
}

// Every polls when at least d elapsed since the previous attempt. The first
// sync after registration always polls.
func Every(d time.Duration) Interval {
	return Interval{period: d}
}

func (i Interval) validate() error {
	switch {
	case i.period > 0 && i.ticks == 0:
		return nil
	case i.ticks >= 1 && i.period == 0:
		return nil
	}
	return fmt.Errorf("%v: %w", i, ErrInvalidInterval)
}

func (i Interval) String() string {
	if i.period > 0 {
		return "every " + i.period.String()
	}
	return fmt.Sprintf("%d ticks", i.ticks)
}

// countdown tracks when a slot is due next.
type countdown struct {
	interval  Interval
	remaining int
	last      time.Time
}

func newCountdown(i Interval) countdown {
	return countdown{interval: i, remaining: i.ticks}
}

// due advances the countdown by one sync and reports whether the task polls now.
func (c *countdown) due(now time.Time) bool {
	if c.interval.period > 0 {
		if !c.last.IsZero() && now.Sub(c.last) < c.interval.period {
			return false
		}
		c.last = now
		return true
	}
	c.remaining--
	if c.remaining > 0 {
		return false
	}
	c.remaining = c.interval.ticks
	return true
}
