package cachestore

import (
	"context"
	"encoding/json"
)

// Short-lived lookaside cache, namespaced by ns. A miss is reported as ok=false, not an error.
type Store interface {
	Get(ctx context.Context, ns, key string) (val string, ok bool, err error)
	Set(ctx context.Context, ns, key, val string) error
	Purge(ctx context.Context, ns, key string) error
}

// Decodes a JSON value stored under ns/key. Returns nil on a miss.
func GetJSON[T any](ctx context.Context, s Store, ns, key string) (*T, error) {
	raw, ok, err := s.Get(ctx, ns, key)
	if err != nil || !ok {
		return nil, err
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// treat undecodable entries as misses; the next Set replaces them
		return nil, nil
	}
	return &out, nil
}

func SetJSON(ctx context.Context, s Store, ns, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.Set(ctx, ns, key, string(b))
}
