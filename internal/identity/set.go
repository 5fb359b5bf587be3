package identity

import (
	"sort"
	"sync"
)

// Set holds the distinct track identities observed during the current
// reporting window. The frame pipeline inserts, the reporter flushes.
type Set struct {
	ids map[int]struct{}
	mu  sync.Mutex
}

// New creates an empty identity set
func New() *Set {
	return &Set{
		ids: make(map[int]struct{}),
	}
}

// Insert adds an identity to the current window. Re-inserting is a no-op.
func (s *Set) Insert(id int) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

// InsertAll adds every identity of one frame under a single lock acquisition
func (s *Set) InsertAll(ids []int) {
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	s.mu.Unlock()
}

// Flush captures the current window and starts a new, empty one.
// The returned ids are sorted ascending and owned by the caller.
func (s *Set) Flush() (int, []int) {
	s.mu.Lock()
	current := s.ids
	s.ids = make(map[int]struct{}, len(current))
	s.mu.Unlock()

	ids := make([]int, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return len(ids), ids
}

// Len returns the number of distinct identities in the current window
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
