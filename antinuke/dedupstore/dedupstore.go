package dedupstore

import (
	"context"
	"fmt"
	"time"
)

// Suppresses repeated emissions of the same key within a cooldown.
type Store interface {
	// Reports whether the key may be emitted at now. A true result starts a new cooldown for the key; a false result changes nothing.
	Allow(ctx context.Context, key string, now time.Time, cooldown time.Duration) (bool, error)
}

// Dedup key for an incident log line.
func IncidentKey(tenantID, actorID, action string) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, actorID, action)
}
