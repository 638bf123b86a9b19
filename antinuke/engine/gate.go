package engine

import (
	"context"
	"fmt"

	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
)

const (
	gateToggle    = "toggle"
	gateLicense   = "license"
	gateAllowList = "allow-list"
	gateBot       = "bot"
)

// Returned when the policy gate filters an event. Unwraps to ErrGateDenied.
type GateError struct {
	Reason string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrGateDenied, e.Reason)
}

func (e *GateError) Unwrap() error {
	return ErrGateDenied
}

func deny(c *eventContext, reason string) error {
	c.denied = reason
	return &GateError{Reason: reason}
}

// Feature toggle check. Runs before actor resolution, since it needs no actor.
func (eng *Engine) toggleGate(c *eventContext, flag policystore.Flag) error {
	if flag != "" && !c.Policy.Enabled(flag) {
		return deny(c, gateToggle)
	}
	return nil
}

// The super-admin is treated as licensed on every tenant.
func (eng *Engine) licensed(ctx context.Context, tenantID, actorID string) bool {
	if eng.SuperAdminID != "" && actorID == eng.SuperAdminID {
		return true
	}
	return eng.Licenses.IsLicensed(ctx, tenantID)
}

// Remaining gate checks, in order: license, allow-list, bot. Does not log.
func (eng *Engine) actorGate(ctx context.Context, c *eventContext) error {
	if !eng.licensed(ctx, c.Event.TenantID, c.Actor.ID) {
		return deny(c, gateLicense)
	}
	if c.Policy.Allowed(c.Actor.ID) {
		return deny(c, gateAllowList)
	}
	if c.Actor.Bot || c.Actor.ID == eng.Platform.BotUserID() {
		return deny(c, gateBot)
	}
	return nil
}

// Attributes the most recent audit log entry of the category to an actor.
func (eng *Engine) resolveActor(ctx context.Context, tenantID string, action platform.AuditAction) (Actor, error) {
	entries, err := eng.Platform.QueryAuditLog(ctx, tenantID, action, 1)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: querying audit log: %w", ErrResolutionFailure, err)
	}
	if len(entries) == 0 || entries[0].ActorID == "" {
		return Actor{}, fmt.Errorf("%w: no %s audit entry", ErrResolutionFailure, action)
	}
	return Unresolved(entries[0].ActorID, entries[0].ActorBot), nil
}
