package licensestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenbot/warden/antinuke/notify"
)

// Called after a tenant loses its license binding (revocation or expiry), outside the registry lock. Used to tear down the tenant's system channels.
type UnbindHook func(ctx context.Context, tenantID, reason string)

// The license oracle. Wraps a Store and serializes every mutation, so check-then-write sequences (activation, sweep) are atomic.
type Registry struct {
	Store    Store
	Notifier notify.Notifier
	Logger   *slog.Logger
	OnUnbind UnbindHook
	Now      func() time.Time

	mu sync.Mutex
}

func NewRegistry(store Store, notifier notify.Notifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		Store:    store,
		Notifier: notifier,
		Logger:   logger.With("component", "license"),
		Now:      time.Now,
	}
}

type pendingUnbind struct {
	tenantID string
	reason   string
}

// side effects collected under the lock and flushed after it is released
type outbox struct {
	msgs    []string
	unbinds []pendingUnbind
}

func (r *Registry) flush(ctx context.Context, out *outbox) {
	for _, u := range out.unbinds {
		if r.OnUnbind != nil {
			r.OnUnbind(ctx, u.tenantID, u.reason)
		}
	}
	if r.Notifier == nil {
		return
	}
	for _, msg := range out.msgs {
		if err := r.Notifier.Notify(ctx, msg); err != nil {
			r.Logger.Warn("license notification failed", "err", err)
		}
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Reports whether any record bound to the tenant is valid right now. Storage errors deny.
func (r *Registry) IsLicensed(ctx context.Context, tenantID string) bool {
	if tenantID == "" {
		return false
	}
	recs, err := r.Store.ByTenant(ctx, tenantID)
	if err != nil {
		r.Logger.Error("license lookup failed", "tenant", tenantID, "err", err)
		return false
	}
	now := r.now()
	for _, rec := range recs {
		if rec.ValidAt(now) {
			return true
		}
	}
	return false
}

// Returns the record bound to the tenant, preferring a valid one. Returns nil if nothing is bound.
func (r *Registry) Lookup(ctx context.Context, tenantID string) (*Record, error) {
	recs, err := r.Store.ByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	now := r.now()
	for i := range recs {
		if recs[i].ValidAt(now) {
			return &recs[i], nil
		}
	}
	return &recs[0], nil
}

func (r *Registry) Generate(ctx context.Context, duration string) (*Record, error) {
	now := r.now().UTC()
	exp, err := expiryFor(duration, now)
	if err != nil {
		return nil, err
	}
	key, err := generateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	rec := &Record{
		Key:       key,
		Duration:  duration,
		IssuedAt:  now,
		ExpiresAt: exp,
	}

	r.mu.Lock()
	err = r.Store.Put(ctx, rec)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.Logger.Info("license key generated", "key", key, "duration", duration, "expires", exp)
	r.flush(ctx, &outbox{msgs: []string{
		fmt.Sprintf("Key generated by master owner. Key: %s | duration: %s | expires: %s", key, duration, exp),
	}})
	return rec, nil
}

// Binds an unused, unexpired key to the tenant.
func (r *Registry) Activate(ctx context.Context, key, tenantID, userID string) (*Record, error) {
	r.mu.Lock()
	rec, err := r.Store.Get(ctx, key)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	exp, permanent, err := rec.Expiry()
	if err != nil {
		r.mu.Unlock()
		return nil, ErrMalformedExpiry
	}
	if !permanent && !exp.After(r.now()) {
		r.mu.Unlock()
		return nil, ErrKeyExpired
	}
	if rec.Used && rec.Bound() {
		r.mu.Unlock()
		return nil, ErrKeyInUse
	}
	rec.Used = true
	rec.TenantID = tenantID
	rec.UserID = userID
	err = r.Store.Put(ctx, rec)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.Logger.Info("license activated", "key", key, "tenant", tenantID, "user", userID)
	r.flush(ctx, &outbox{msgs: []string{
		fmt.Sprintf("Key used: %s | guild: %s | user: %s | expires: %s", key, tenantID, userID, rec.ExpiresAt),
	}})
	return rec, nil
}

// Unbinds every key bound to the tenant and marks them reusable. Returns how many keys were released.
func (r *Registry) Deactivate(ctx context.Context, tenantID, byUserID string) (int, error) {
	r.mu.Lock()
	recs, err := r.Store.ByTenant(ctx, tenantID)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}
	n := 0
	for i := range recs {
		rec := &recs[i]
		rec.Used = false
		rec.TenantID = ""
		rec.UserID = ""
		if err := r.Store.Put(ctx, rec); err != nil {
			r.mu.Unlock()
			return n, err
		}
		n++
	}
	r.mu.Unlock()

	if n == 0 {
		return 0, nil
	}
	r.Logger.Info("license deactivated", "tenant", tenantID, "user", byUserID, "keys", n)
	r.flush(ctx, &outbox{msgs: []string{
		fmt.Sprintf("License removed for guild %s by owner %s", tenantID, byUserID),
	}})
	return n, nil
}

// Deletes a key. If it was bound, the unbind hook runs for its tenant.
func (r *Registry) Revoke(ctx context.Context, key string) error {
	r.mu.Lock()
	rec, err := r.Store.Get(ctx, key)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.Store.Delete(ctx, key); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	out := &outbox{msgs: []string{fmt.Sprintf("Key revoked by master owner: %s", key)}}
	if rec.Bound() {
		out.unbinds = append(out.unbinds, pendingUnbind{tenantID: rec.TenantID, reason: fmt.Sprintf("Key %s revoked by master owner", key)})
	}
	r.Logger.Info("license key revoked", "key", key, "tenant", rec.TenantID)
	r.flush(ctx, out)
	return nil
}

// Deletes every key activated by the user. Returns the number of keys removed.
func (r *Registry) RevokeUser(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	all, err := r.Store.List(ctx)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}
	out := &outbox{}
	n := 0
	for _, rec := range all {
		if rec.UserID != userID {
			continue
		}
		if err := r.Store.Delete(ctx, rec.Key); err != nil {
			r.mu.Unlock()
			return n, err
		}
		n++
		if rec.Bound() {
			out.unbinds = append(out.unbinds, pendingUnbind{tenantID: rec.TenantID, reason: fmt.Sprintf("Keys for user %s revoked by master owner", userID)})
		}
	}
	r.mu.Unlock()

	if n == 0 {
		return 0, nil
	}
	out.msgs = append(out.msgs, fmt.Sprintf("Keys revoked for user %s by master owner.", userID))
	r.Logger.Info("license keys revoked for user", "user", userID, "keys", n)
	r.flush(ctx, out)
	return n, nil
}

func (r *Registry) List(ctx context.Context) ([]Record, error) {
	return r.Store.List(ctx)
}

// Unbinds every expired key still attached to a tenant. Expired keys stay marked used, so they cannot be re-activated. Each expiry is reported exactly once, since a swept record is no longer bound.
func (r *Registry) SweepExpired(ctx context.Context) ([]Record, error) {
	r.mu.Lock()
	all, err := r.Store.List(ctx)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	now := r.now()
	out := &outbox{}
	swept := []Record{}
	for _, rec := range all {
		if !rec.Bound() {
			continue
		}
		exp, permanent, err := rec.Expiry()
		if err != nil {
			// malformed records are never valid, but they are left alone for an operator to inspect
			r.Logger.Warn("skipping license with malformed expiry", "key", rec.Key, "expires", rec.ExpiresAt)
			continue
		}
		if permanent || exp.After(now) {
			continue
		}
		tenantID := rec.TenantID
		rec.TenantID = ""
		rec.UserID = ""
		rec.Used = true
		if err := r.Store.Put(ctx, &rec); err != nil {
			r.mu.Unlock()
			return swept, err
		}
		rec.TenantID = tenantID
		swept = append(swept, rec)
		out.unbinds = append(out.unbinds, pendingUnbind{tenantID: tenantID, reason: "License expired"})
		out.msgs = append(out.msgs, fmt.Sprintf("License expired: key %s expired and was unbound from guild %s", rec.Key, tenantID))
	}
	r.mu.Unlock()

	if len(swept) > 0 {
		r.Logger.Info("expired licenses swept", "count", len(swept))
	}
	r.flush(ctx, out)
	return swept, nil
}
