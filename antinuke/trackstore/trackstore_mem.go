package trackstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// how many hits between sweeps of idle windows
const gcInterval = 1024

type window struct {
	mu      sync.Mutex
	hits    []time.Time
	strikes int
	last    time.Time
	span    time.Duration
	// set once the window has been removed from the map
	dead bool
}

// In-process tracker state, sharded per key. Idle windows are pruned lazily.
type MemStore struct {
	windows *xsync.Map[Key, *window]
	ops     atomic.Uint64
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		windows: xsync.NewMap[Key, *window](),
	}
}

// Returns the live window for key, locked.
func (s *MemStore) acquire(key Key) *window {
	for {
		w, _ := s.windows.LoadOrCompute(key, func() (*window, bool) {
			return &window{}, false
		})
		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

func (s *MemStore) Hit(ctx context.Context, key Key, now time.Time, span time.Duration) (int, error) {
	w := s.acquire(key)
	cutoff := now.Add(-span)
	kept := w.hits[:0]
	for _, t := range w.hits {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	w.hits = append(kept, now)
	w.span = span
	if now.After(w.last) {
		w.last = now
	}
	count := len(w.hits)
	w.mu.Unlock()

	if s.ops.Add(1)%gcInterval == 0 {
		s.prune(now)
	}
	return count, nil
}

func (s *MemStore) AddStrike(ctx context.Context, key Key) (int, error) {
	w := s.acquire(key)
	defer w.mu.Unlock()
	w.strikes++
	return w.strikes, nil
}

func (s *MemStore) ResetStrikes(ctx context.Context, key Key) error {
	w, ok := s.windows.Load(key)
	if !ok {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.strikes = 0
	return nil
}

// Removes windows whose newest hit has aged out and which carry no strikes.
func (s *MemStore) prune(now time.Time) {
	s.windows.Range(func(key Key, w *window) bool {
		s.windows.Compute(key, func(old *window, loaded bool) (*window, xsync.ComputeOp) {
			if !loaded || old != w {
				return old, xsync.CancelOp
			}
			old.mu.Lock()
			defer old.mu.Unlock()
			if old.strikes > 0 || !old.last.Add(old.span).Before(now) {
				return old, xsync.CancelOp
			}
			old.dead = true
			return old, xsync.DeleteOp
		})
		return true
	})
}

// Number of tracked windows.
func (s *MemStore) Size() int {
	return s.windows.Size()
}
