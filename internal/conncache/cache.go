// Package conncache holds the "current session" that code under test
// memoizes outside of explicit dependency injection.
//
// Each test worker gets its own Slot keyed by a worker name (the test-case
// name unless the harness is given another key). The flight harness resets a worker's slot right after it
// stops the pill, so the next test on that worker can never observe the
// previous test's session.
package conncache

import (
	"sync"

	"github.com/sourceops/cloud-custodian/internal/session"
)

// Cache is a set of per-worker session slots.
//
// Thread-safety: all methods are safe for concurrent use. Distinct keys
// never contend on the same slot.
type Cache struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{slots: make(map[string]*Slot)}
}

// Slot returns the slot for key, creating it on first use.
func (c *Cache) Slot(key string) *Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		s = &Slot{key: key}
		c.slots[key] = s
	}
	return s
}

// Reset clears the session held in key's slot. Unconditional: resetting an
// empty or unknown slot is a no-op.
func (c *Cache) Reset(key string) {
	c.mu.Lock()
	s, ok := c.slots[key]
	c.mu.Unlock()
	if ok {
		s.Clear()
	}
}

// ResetAll clears every slot.
func (c *Cache) ResetAll() {
	c.mu.Lock()
	slots := make([]*Slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.Unlock()
	for _, s := range slots {
		s.Clear()
	}
}

// Active returns the number of slots currently holding a session.
func (c *Cache) Active() int {
	c.mu.Lock()
	slots := make([]*Slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.Unlock()

	n := 0
	for _, s := range slots {
		if s.Current() != nil {
			n++
		}
	}
	return n
}

// Slot is one worker's memoized session.
type Slot struct {
	key string

	mu      sync.Mutex
	current *session.Session
}

// Key returns the worker key.
func (s *Slot) Key() string { return s.key }

// Session returns the memoized session, calling factory on first use.
func (s *Slot) Session(factory session.Factory) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.current = factory()
	}
	return s.current
}

// Current returns the memoized session or nil.
func (s *Slot) Current() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the memoized session.
func (s *Slot) Set(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sess
}

// Clear drops the memoized session.
func (s *Slot) Clear() {
	s.Set(nil)
}
