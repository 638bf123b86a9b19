package trackstore

import (
	"context"
	"fmt"
	"time"
)

type Kind string

const (
	KindRename  Kind = "rename"
	KindMessage Kind = "message"
	KindJoin    Kind = "join"
)

// Identifies one sliding window. Actor is the acting member for renames and messages; join windows are tenant-wide and leave it empty.
type Key struct {
	Tenant string
	Actor  string
	Kind   Kind
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Tenant, k.Kind, k.Actor)
}

type Store interface {
	// Records one occurrence at now, evicts occurrences older than now-window, and returns the number remaining (including this one).
	Hit(ctx context.Context, key Key, now time.Time, window time.Duration) (int, error)
	// Increments the strike counter for the key and returns the new total.
	AddStrike(ctx context.Context, key Key) (int, error)
	ResetStrikes(ctx context.Context, key Key) error
}

// A threshold over a sliding window. A zero threshold never trips.
type Detector struct {
	Window    time.Duration
	Threshold int
}

func (d Detector) Tripped(count int) bool {
	return d.Threshold > 0 && count >= d.Threshold
}

// Records a hit and reports whether the detector tripped.
func (d Detector) Hit(ctx context.Context, s Store, key Key, now time.Time) (bool, int, error) {
	count, err := s.Hit(ctx, key, now, d.Window)
	if err != nil {
		return false, 0, err
	}
	return d.Tripped(count), count, nil
}

var (
	// three renames inside thirty seconds
	RenameDetector = Detector{Window: 30 * time.Second, Threshold: 3}
)
