package orchestrator

import "sync"

// cycleQueue runs cycles one at a time. A cycle submitted while another is
// running, from any goroutine or from inside the running cycle itself, is
// queued and run by the goroutine already draining the queue; run then
// returns without waiting for it.
type cycleQueue struct {
	mu      sync.Mutex
	running bool
	pending []func()
}

func (q *cycleQueue) run(cycle func()) {
	q.mu.Lock()
	q.pending = append(q.pending, cycle)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	for len(q.pending) > 0 {
		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()
		next()
		q.mu.Lock()
	}
	q.running = false
	q.mu.Unlock()
}
