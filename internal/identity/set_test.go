package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushReturnsDistinctIDs(t *testing.T) {
	s := New()
	for _, id := range []int{5, 5, 7, 9, 7} {
		s.Insert(id)
	}

	count, ids := s.Flush()
	assert.Equal(t, 3, count)
	assert.ElementsMatch(t, []int{5, 7, 9}, ids)

	count, ids = s.Flush()
	assert.Equal(t, 0, count)
	assert.Empty(t, ids)
}

func TestFlushSortsIDs(t *testing.T) {
	s := New()
	s.InsertAll([]int{42, 3, 17, 3})

	count, ids := s.Flush()
	require.Equal(t, 3, count)
	assert.Equal(t, []int{3, 17, 42}, ids)
}

func TestInsertAllEmpty(t *testing.T) {
	s := New()
	s.InsertAll(nil)
	assert.Equal(t, 0, s.Len())
}

func TestLenTracksWindow(t *testing.T) {
	s := New()
	s.Insert(1)
	s.Insert(2)
	s.Insert(1)
	assert.Equal(t, 2, s.Len())

	s.Flush()
	assert.Equal(t, 0, s.Len())

	s.Insert(2)
	assert.Equal(t, 1, s.Len())
}

func TestFlushedSliceIsNotShared(t *testing.T) {
	s := New()
	s.InsertAll([]int{1, 2})
	_, first := s.Flush()

	s.InsertAll([]int{3})
	first[0] = 99

	_, second := s.Flush()
	assert.Equal(t, []int{3}, second)
}

// Every id inserted concurrently with repeated flushes must appear in exactly
// one flush result.
func TestConcurrentInsertAndFlushLosesNothing(t *testing.T) {
	const (
		writers   = 4
		perWriter = 5000
	)

	s := New()
	var wg sync.WaitGroup
	done := make(chan struct{})

	seen := make(map[int]int)
	var flushes [][]int
	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		for {
			select {
			case <-done:
				return
			default:
				_, ids := s.Flush()
				flushes = append(flushes, ids)
			}
		}
	}()

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Insert(base + i)
			}
		}(w * perWriter)
	}

	wg.Wait()
	close(done)
	<-flusherDone

	_, rest := s.Flush()
	flushes = append(flushes, rest)

	for _, ids := range flushes {
		for _, id := range ids {
			seen[id]++
		}
	}

	require.Len(t, seen, writers*perWriter)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "id %d reported %d times", id, n)
	}
}
