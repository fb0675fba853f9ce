// Package identity supplies the current owner identifier that partitions the cache.
package identity

import "sync"

// Identity is a point-in-time view of the signed-in user.
type Identity struct {
	ID        string
	Resolving bool
}

// Resolved reports whether the identity names a user that can own records.
func (i Identity) Resolved() bool {
	return !i.Resolving && i.ID != ""
}

// Source yields the current identity and notifies watchers when it changes.
type Source interface {
	Current() Identity
	// Watch registers fn to be called with every new identity. fn may be
	// called from any goroutine and must not block.
	Watch(fn func(Identity)) (cancel func())
}

// watchers is the callback registry shared by Source implementations.
type watchers struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(Identity)
}

func (w *watchers) add(fn func(Identity)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[uint64]func(Identity))
	}
	w.next++
	id := w.next
	w.fns[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.fns, id)
	}
}

func (w *watchers) notify(id Identity) {
	w.mu.Lock()
	fns := make([]func(Identity), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}

// Static is a Source whose identity is set explicitly.
type Static struct {
	mu      sync.RWMutex
	current Identity
	watchers
}

// NewStatic creates a Static source starting at initial.
func NewStatic(initial Identity) *Static {
	return &Static{current: initial}
}

// Current returns the identity last set.
func (s *Static) Current() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the identity and notifies watchers.
func (s *Static) Set(id Identity) {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	s.notify(id)
}

// Watch implements Source.
func (s *Static) Watch(fn func(Identity)) func() {
	return s.add(fn)
}
