// Package store holds the current selection and delivers every change to
// subscribers synchronously on the caller's goroutine.
package store

import (
	"sync"

	"github.com/signalsfoundry/terrainview/model"
)

// Store is an in-memory, thread-safe holder for the current selection.
type Store struct {
	mu sync.RWMutex

	current *model.SelectionItem

	subs   map[int]func(*model.SelectionItem)
	nextID int
	// order keeps delivery in subscription order.
	order []int
}

// New constructs an empty store.
func New() *Store {
	return &Store{subs: make(map[int]func(*model.SelectionItem))}
}

// Set replaces the current selection and notifies subscribers.
func (s *Store) Set(item *model.SelectionItem) {
	s.mu.Lock()
	s.current = item
	subs := s.snapshotLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(item)
	}
}

// Clear removes the current selection; subscribers receive nil.
func (s *Store) Clear() {
	s.Set(nil)
}

// Current returns the current selection, or nil.
func (s *Store) Current() *model.SelectionItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers fn for future changes and returns a func that
// unregisters it.
func (s *Store) Subscribe(fn func(*model.SelectionItem)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store) snapshotLocked() []func(*model.SelectionItem) {
	subs := make([]func(*model.SelectionItem), 0, len(s.order))
	for _, id := range s.order {
		subs = append(subs, s.subs[id])
	}
	return subs
}
