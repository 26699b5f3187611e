// Package lockset provides fine-grained exclusive locks keyed by record identity.
//
// A unit of work locks every record key it will mutate before opening its
// storage transaction. Keys are deduplicated and acquired in sorted order, so
// two units that share keys cannot deadlock, and units with disjoint keys
// never wait on each other.
package lockset

import (
	"slices"
	"sync"
)

// Key builds a lock key from a record kind and id, e.g. Key("war", id).
func Key(kind, id string) string {
	return kind + "/" + id
}

// Set holds one mutex per live key. Entries are reference counted and
// removed when the last holder or waiter releases them.
type Set struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty lock set.
func New() *Set {
	return &Set{locks: make(map[string]*entry)}
}

// Lock acquires every key and returns a function releasing them.
// Empty keys are ignored. The release function is safe to call once.
func (s *Set) Lock(keys ...string) (unlock func()) {
	ordered := normalize(keys)
	held := make([]*entry, 0, len(ordered))
	for _, k := range ordered {
		e := s.acquireEntry(k)
		e.mu.Lock()
		held = append(held, e)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			s.releaseEntry(ordered[i])
		}
	}
}

// Len returns the number of keys currently held or awaited.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func (s *Set) acquireEntry(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.locks[key]
	if !ok {
		e = &entry{}
		s.locks[key] = e
	}
	e.refs++
	return e
}

func (s *Set) releaseEntry(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(s.locks, key)
	}
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
