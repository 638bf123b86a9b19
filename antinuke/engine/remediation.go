package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wardenbot/warden/antinuke/incident"
	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
)

type punishAction string

const (
	actionKick    punishAction = "kick"
	actionTimeout punishAction = "timeout"
)

// Second phase of the fast path: punish the actor of an already recorded mutation, per the tenant's auto_kick/auto_timeout toggles.
func (eng *Engine) punish(ctx context.Context, c *eventContext, label string) error {
	if !eng.guard.acquire(c.Event.TenantID, c.Actor.ID) {
		c.Logger.Info("punishment already in flight, skipping")
		return nil
	}
	defer eng.guard.release(c.Event.TenantID, c.Actor.ID)

	if eng.PunishDelay > 0 {
		select {
		case <-time.After(eng.PunishDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// the license may have lapsed since the gate ran
	if !eng.licensed(ctx, c.Event.TenantID, c.Actor.ID) {
		eng.logIncident(ctx, c, c.Actor.ID, label, incident.StatusLicenseSkippedPunish)
		return deny(c, gateLicense)
	}

	var action punishAction
	switch {
	case c.Policy.Enabled(policystore.AutoKick):
		action = actionKick
	case c.Policy.Enabled(policystore.AutoTimeout):
		action = actionTimeout
	default:
		return nil
	}
	return eng.remediate(ctx, c, label, action)
}

// Resolves the actor to a live member, checks preconditions, and issues exactly one punishment call. Callers hold the punish guard for the actor.
//
// Every outcome other than a silent skip (allow-listed or bot) is recorded as an incident.
func (eng *Engine) remediate(ctx context.Context, c *eventContext, label string, action punishAction) error {
	tenantID := c.Event.TenantID
	actorID := c.Actor.ID

	member, err := eng.Platform.GetMember(ctx, tenantID, actorID)
	if err != nil {
		eng.logIncident(ctx, c, actorID, "User not found during "+label, incident.StatusUserNotFound)
		return fmt.Errorf("%w: member %s: %w", ErrResolutionFailure, actorID, err)
	}
	c.Actor.Member = member
	c.Actor.Bot = c.Actor.Bot || member.Bot

	if c.Policy.Allowed(actorID) || c.Actor.Bot {
		return nil
	}

	if err := eng.checkHierarchy(ctx, tenantID, member); err != nil {
		eng.logIncident(ctx, c, actorID, "Cannot punish higher-role member for "+label, incident.StatusHierarchyBlock)
		return err
	}

	switch action {
	case actionKick:
		return eng.kick(ctx, c, label)
	case actionTimeout:
		return eng.timeout(ctx, c, label, time.Duration(c.Policy.RateLimitHours)*time.Hour)
	}
	return nil
}

// Members ranked at or above the bot, and the tenant owner, are out of reach. An unknown bot rank is treated the same way.
func (eng *Engine) checkHierarchy(ctx context.Context, tenantID string, member *platform.Member) error {
	if member.Owner {
		return fmt.Errorf("%w: %s owns the tenant", ErrHierarchyViolation, member.UserID)
	}
	me, err := eng.Platform.GetMember(ctx, tenantID, eng.Platform.BotUserID())
	if err != nil {
		return fmt.Errorf("%w: resolving bot member: %w", ErrHierarchyViolation, err)
	}
	if member.TopRolePosition >= me.TopRolePosition {
		return fmt.Errorf("%w: rank %d >= %d", ErrHierarchyViolation, member.TopRolePosition, me.TopRolePosition)
	}
	return nil
}

func (eng *Engine) hasPermission(ctx context.Context, tenantID string, perm platform.Permissions) bool {
	perms, err := eng.Platform.BotPermissions(ctx, tenantID)
	if err != nil {
		eng.Logger.Warn("failed to read bot permissions", "tenant", tenantID, "err", err)
		return false
	}
	return perms.Has(perm)
}

// Consumes punishment quota; records the blocked attempt when the tenant is over.
func (eng *Engine) withinQuota(ctx context.Context, c *eventContext, label string) bool {
	if eng.breaker.allow(c.Event.TenantID, eng.now()) {
		return true
	}
	c.Logger.Warn("punishment quota exhausted", "quota", eng.PunishQuota)
	eng.logIncident(ctx, c, c.Actor.ID, "Punishment quota exceeded for "+label, incident.StatusBlocked)
	return false
}

func (eng *Engine) kick(ctx context.Context, c *eventContext, label string) error {
	tenantID, actorID := c.Event.TenantID, c.Actor.ID
	if !eng.hasPermission(ctx, tenantID, platform.PermKickMembers) {
		eng.logIncident(ctx, c, actorID, "Missing kick permission for "+label, incident.StatusMissingPerm)
		return fmt.Errorf("%w: kick members", ErrPermissionMissing)
	}
	if !eng.withinQuota(ctx, c, label) {
		return nil
	}

	err := eng.Platform.Kick(ctx, tenantID, actorID, "Auto-Kick: "+label)
	switch {
	case err == nil:
		punishmentCount.WithLabelValues(string(actionKick), "ok").Inc()
		c.punished = string(actionKick)
		eng.logIncident(ctx, c, actorID, "Auto-Kicked for "+label, incident.StatusKicked)
		return nil
	case errors.Is(err, platform.ErrForbidden):
		punishmentCount.WithLabelValues(string(actionKick), "forbidden").Inc()
		eng.logIncident(ctx, c, actorID, "Kick forbidden for "+label, incident.StatusForbidden)
	default:
		punishmentCount.WithLabelValues(string(actionKick), "failed").Inc()
		eng.logIncident(ctx, c, actorID, "Kick failed for "+label, incident.StatusFailed)
	}
	return fmt.Errorf("%w: kick: %w", ErrPlatformAPI, err)
}

func (eng *Engine) timeout(ctx context.Context, c *eventContext, label string, d time.Duration) error {
	tenantID, actorID := c.Event.TenantID, c.Actor.ID
	if !eng.hasPermission(ctx, tenantID, platform.PermModerateMembers) {
		eng.logIncident(ctx, c, actorID, "Missing timeout permission for "+label, incident.StatusMissingPerm)
		return fmt.Errorf("%w: moderate members", ErrPermissionMissing)
	}
	if !eng.withinQuota(ctx, c, label) {
		return nil
	}

	until := eng.now().Add(d)
	err := eng.Platform.Timeout(ctx, tenantID, actorID, until, label)
	switch {
	case err == nil:
		punishmentCount.WithLabelValues(string(actionTimeout), "ok").Inc()
		c.punished = string(actionTimeout)
		eng.logIncident(ctx, c, actorID, "Timed Out for "+label, incident.StatusTimedOut)
		return nil
	case errors.Is(err, platform.ErrForbidden):
		punishmentCount.WithLabelValues(string(actionTimeout), "forbidden").Inc()
		eng.logIncident(ctx, c, actorID, "Timeout forbidden for "+label, incident.StatusForbidden)
	default:
		punishmentCount.WithLabelValues(string(actionTimeout), "failed").Inc()
		eng.logIncident(ctx, c, actorID, "Timeout failed for "+label, incident.StatusFailed)
	}
	return fmt.Errorf("%w: timeout: %w", ErrPlatformAPI, err)
}
