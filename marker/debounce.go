package marker

import (
	"sync"
	"time"

	"github.com/signalsfoundry/terrainview/timectrl"
)

// debouncer runs fn on the leading edge of a burst of triggers and once more
// on the trailing edge if further triggers arrived during the wait.
type debouncer struct {
	clock timectrl.Clock
	wait  time.Duration
	fn    func()

	mu      sync.Mutex
	timer   timectrl.Timer
	pending bool
	stopped bool
}

func newDebouncer(clock timectrl.Clock, wait time.Duration, fn func()) *debouncer {
	return &debouncer{clock: timectrl.OrReal(clock), wait: wait, fn: fn}
}

// Trigger records an event.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.pending = true
		d.mu.Unlock()
		return
	}
	d.timer = d.clock.AfterFunc(d.wait, d.expire)
	d.mu.Unlock()

	d.fn()
}

func (d *debouncer) expire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if !d.pending {
		d.timer = nil
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = d.clock.AfterFunc(d.wait, d.expire)
	d.mu.Unlock()

	d.fn()
}

// Stop drops any pending trailing call. Later triggers are ignored.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
