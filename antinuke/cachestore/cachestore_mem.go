package cachestore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemStore struct {
	Data *expirable.LRU[string, string]
}

var _ Store = (*MemStore)(nil)

func NewMemStore(capacity int, ttl time.Duration) *MemStore {
	return &MemStore{
		Data: expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

func (s *MemStore) Get(ctx context.Context, ns, key string) (string, bool, error) {
	v, ok := s.Data.Get(ns + "/" + key)
	return v, ok, nil
}

func (s *MemStore) Set(ctx context.Context, ns, key, val string) error {
	s.Data.Add(ns+"/"+key, val)
	return nil
}

func (s *MemStore) Purge(ctx context.Context, ns, key string) error {
	s.Data.Remove(ns + "/" + key)
	return nil
}
