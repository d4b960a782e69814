package timectrl

import (
	"sort"
	"sync"
	"time"
)

// ManualClock is a Clock whose time only moves when Advance or SetTime is
// called. Timers fire synchronously on the goroutine that moves time, in
// deadline order.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	timers  []*manualTimer
	history []time.Duration
}

type manualTimer struct {
	clock    *ManualClock
	id       int
	deadline time.Time
	fn       func()
	done     bool
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the clock has been advanced by d.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &manualTimer{clock: c, id: c.seq, deadline: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	c.history = append(c.history, d)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Scheduled returns the delays passed to AfterFunc, in call order.
func (c *ManualClock) Scheduled() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.history))
	copy(out, c.history)
	return out
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// SetTime jumps to now without firing any timers.
func (c *ManualClock) SetTime(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves time forward by d, firing every timer that falls due.
// Timers scheduled by fired callbacks also fire if they fall inside the
// advanced window.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

// AdvanceToNext jumps to the earliest pending deadline and fires that timer.
// It returns false when nothing is pending.
func (c *ManualClock) AdvanceToNext() bool {
	c.mu.Lock()
	pending := c.pendingLocked()
	c.mu.Unlock()
	if len(pending) == 0 {
		return false
	}
	t := c.nextDue(pending[0].deadline)
	if t == nil {
		return false
	}
	t.fn()
	return true
}

// nextDue pops the earliest pending timer whose deadline is not after
// limit, moving the clock to its deadline.
func (c *ManualClock) nextDue(limit time.Time) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.pendingLocked()
	if len(pending) == 0 || pending[0].deadline.After(limit) {
		return nil
	}
	t := pending[0]
	t.done = true
	if t.deadline.After(c.now) {
		c.now = t.deadline
	}
	return t
}

func (c *ManualClock) pendingLocked() []*manualTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	c.timers = live

	out := make([]*manualTimer, len(live))
	copy(out, live)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].deadline.Equal(out[j].deadline) {
			return out[i].id < out[j].id
		}
		return out[i].deadline.Before(out[j].deadline)
	})
	return out
}
