package dedupstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

const gcInterval = 1024

type MemStore struct {
	// key to end of cooldown
	until *xsync.Map[string, time.Time]
	ops   atomic.Uint64
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		until: xsync.NewMap[string, time.Time](),
	}
}

func (s *MemStore) Allow(ctx context.Context, key string, now time.Time, cooldown time.Duration) (bool, error) {
	allowed := false
	s.until.Compute(key, func(old time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
		if loaded && now.Before(old) {
			return old, xsync.CancelOp
		}
		allowed = true
		return now.Add(cooldown), xsync.UpdateOp
	})

	if s.ops.Add(1)%gcInterval == 0 {
		s.prune(now)
	}
	return allowed, nil
}

func (s *MemStore) prune(now time.Time) {
	s.until.Range(func(key string, until time.Time) bool {
		s.until.Compute(key, func(old time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
			if loaded && !now.Before(old) {
				return old, xsync.DeleteOp
			}
			return old, xsync.CancelOp
		})
		return true
	})
}

func (s *MemStore) Size() int {
	return s.until.Size()
}
