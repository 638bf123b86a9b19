package licensestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const Permanent = "permanent"

var (
	ErrKeyNotFound     = errors.New("Key not found")
	ErrMalformedExpiry = errors.New("Malformed expiry")
	ErrKeyExpired      = errors.New("Key expired")
	ErrKeyInUse        = errors.New("Key already used")
	ErrInvalidDuration = errors.New("invalid duration: use 7d, 30d, or permanent")
)

// A license key. A record is bound when TenantID is non-empty.
type Record struct {
	Key      string `gorm:"primaryKey"`
	Duration string
	IssuedAt time.Time
	// RFC 3339 timestamp, or "permanent"
	ExpiresAt string
	Used      bool
	// owner who activated the key; empty when unbound
	UserID   string `gorm:"index"`
	TenantID string `gorm:"index"`
}

func (Record) TableName() string {
	return "license_keys"
}

func (r *Record) Bound() bool {
	return r.TenantID != ""
}

// Parses the expiry. Permanent records return a zero time and permanent=true.
func (r *Record) Expiry() (exp time.Time, permanent bool, err error) {
	if r.ExpiresAt == Permanent {
		return time.Time{}, true, nil
	}
	exp, err = time.Parse(time.RFC3339Nano, r.ExpiresAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %q", ErrMalformedExpiry, r.ExpiresAt)
	}
	return exp, false, nil
}

// A record is valid when permanent, or when its expiry is strictly in the future. Malformed expiries are never valid.
func (r *Record) ValidAt(now time.Time) bool {
	exp, permanent, err := r.Expiry()
	if err != nil {
		return false
	}
	return permanent || exp.After(now)
}

// Persistence for license records. The Registry serializes all writes on top of this.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Record, error)
	ByTenant(ctx context.Context, tenantID string) ([]Record, error)
}

func generateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func expiryFor(duration string, now time.Time) (string, error) {
	switch duration {
	case "7d":
		return now.Add(7 * 24 * time.Hour).UTC().Format(time.RFC3339Nano), nil
	case "30d":
		return now.Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339Nano), nil
	case Permanent:
		return Permanent, nil
	default:
		return "", ErrInvalidDuration
	}
}
