package scene

import "sync"

// Ref is the mutable handle to whichever scene is current. The owner swaps
// the scene when the view is rebuilt; holders must re-read it after any
// blocking call.
type Ref struct {
	mu sync.RWMutex
	s  Scene
}

// NewRef returns a Ref holding s, which may be nil.
func NewRef(s Scene) *Ref {
	return &Ref{s: s}
}

// Get returns the current scene, possibly nil or destroyed.
func (r *Ref) Get() Scene {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

// Set replaces the current scene.
func (r *Ref) Set(s Scene) {
	r.mu.Lock()
	r.s = s
	r.mu.Unlock()
}

// Ready returns the current scene when it is alive.
func (r *Ref) Ready() (Scene, bool) {
	s := r.Get()
	if !Alive(s) {
		return nil, false
	}
	return s, true
}
