package engine

import (
	"context"
	"errors"

	"github.com/wardenbot/warden/antinuke/incident"
	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
	"github.com/wardenbot/warden/antinuke/trackstore"
)

// Performs the first-phase remediation for a mutation. Returns the status to record, and whether to continue to punishment.
type remediateFunc func(ctx context.Context, eng *Engine, c *eventContext) (incident.Status, bool)

type mutationHandler struct {
	Flag  policystore.Flag
	Audit platform.AuditAction
	Label string
	// reports whether the event is a change worth acting on; nil means always
	Relevant  func(evt *SecurityEvent) bool
	Remediate remediateFunc
}

var mutationHandlers = map[EventKind]mutationHandler{
	KindChannelCreate: {
		Flag:      policystore.AntiChannelCreate,
		Audit:     platform.AuditChannelCreate,
		Label:     "Unauthorized Channel Creation",
		Remediate: deleteCreatedChannel,
	},
	KindChannelDelete: {
		Flag:      policystore.AntiChannelDelete,
		Audit:     platform.AuditChannelDelete,
		Label:     "Unauthorized Channel Delete",
		Remediate: recreateDeletedChannel,
	},
	KindChannelUpdate: {
		Flag:      policystore.AntiRaid,
		Audit:     platform.AuditChannelUpdate,
		Label:     "Mass Channel Rename Detected",
		Relevant:  channelRenamed,
		Remediate: revertRenameBurst,
	},
	KindRoleCreate: {
		Flag:      policystore.AntiRoleCreate,
		Audit:     platform.AuditRoleCreate,
		Label:     "Unauthorized Role Creation",
		Remediate: deleteCreatedRole,
	},
	KindRoleDelete: {
		Flag:      policystore.AntiRoleDelete,
		Audit:     platform.AuditRoleDelete,
		Label:     "Unauthorized Role Deletion",
		Remediate: recreateDeletedRole,
	},
	KindRoleUpdate: {
		Flag:      policystore.AntiRoleUpdate,
		Audit:     platform.AuditRoleUpdate,
		Label:     "Unauthorized Role Update",
		Relevant:  roleChanged,
		Remediate: revertRoleUpdate,
	},
	KindWebhookCreate: {
		Flag:      policystore.AntiWebhook,
		Audit:     platform.AuditWebhookCreate,
		Label:     "Unauthorized Webhook Creation",
		Remediate: deleteCreatedWebhooks,
	},
	KindGuildPropertyChange: {
		Flag:     policystore.AntiRaid,
		Audit:    platform.AuditGuildUpdate,
		Label:    "Vanity URL Change Detected",
		Relevant: vanityChanged,
		Remediate: func(ctx context.Context, eng *Engine, c *eventContext) (incident.Status, bool) {
			return incident.StatusDetected, true
		},
	},
}

// Mutation pipeline: toggle, attribution, gate, first-phase remediation and its record, then punishment.
func (eng *Engine) processMutation(ctx context.Context, c *eventContext, h mutationHandler) error {
	if h.Relevant != nil && !h.Relevant(c.Event) {
		return nil
	}
	if err := eng.toggleGate(c, h.Flag); err != nil {
		return err
	}

	actor, err := eng.resolveActor(ctx, c.Event.TenantID, h.Audit)
	if err != nil {
		c.Logger.Debug("could not attribute mutation", "err", err)
		return err
	}
	c.Actor = actor
	c.Logger = c.Logger.With("actor", actor.ID)

	if err := eng.actorGate(ctx, c); err != nil {
		if c.denied == gateLicense {
			eng.logIncident(ctx, c, actor.ID, h.Label, incident.StatusLicenseSkipped)
		}
		return err
	}

	status, proceed := h.Remediate(ctx, eng, c)
	if status == "" {
		return nil
	}
	eng.logIncident(ctx, c, actor.ID, h.Label, status)
	if !proceed {
		return nil
	}
	return eng.punish(ctx, c, h.Label)
}

func (eng *Engine) warnFailed(c *eventContext, step string, err error) {
	if err != nil {
		c.Logger.Warn("remediation step failed", "step", step, "err", err)
	}
}

func channelID(evt *SecurityEvent) string {
	if evt.ChannelID != "" {
		return evt.ChannelID
	}
	if evt.ChannelAfter != nil {
		return evt.ChannelAfter.ID
	}
	if evt.ChannelBefore != nil {
		return evt.ChannelBefore.ID
	}
	return ""
}

func deleteCreatedChannel(ctx context.Context, eng *Engine, c *eventContext) (incident.Status, bool) {
	if id := channelID(c.Event); id != "" {
		eng.warnFailed(c, "delete channel", eng.Platform.DeleteChannel(ctx, c.Event.TenantID, id, "Anti-Raid: Unauthorized Channel Create"))
	}
	return incident.StatusDeleted, true
}

func recreateDeletedChannel(ctx context.Context, eng *Engine, c *eventContext) (incident.Status, bool) {
	if before := c.Event.ChannelBefore; before != nil {
		eng.warnFailed(c, "recreate channel", eng.Platform.CreateChannel(ctx, c.Event.TenantID, *before, "Anti-Raid: Unauthorized Channel Delete"))
	}
	return incident.StatusDeleted, true
}

func channelRenamed(evt *SecurityEvent) bool {
	return evt.ChannelBefore != nil && evt.ChannelAfter != nil && evt.ChannelBefore.Name != evt.ChannelAfter.Name
}

// Counts the rename against the actor; only a burst is remediated.
func revertRenameBurst(ctx context.Context, eng *Engine, c *eventContext) (incident.Status, bool) {
	key := trackstore.Key{Tenant: c.Event.TenantID, Actor: c.Actor.ID, Kind: trackstore.KindRename}
	tripped, count, err := trackstore.RenameDetector.Hit(ctx, eng.Trackers, key, eng.now())
	if err != nil {
		c.Logger.Warn("rename tracker failed", "err", err)
		return "", false
	}
	if !tripped {
		c.Logger.Debug("channel rename counted", "count", count)
		return "", false
	}
	detectorTripCount.WithLabelValues(string(trackstore.KindRename)).Inc()

	revert := *c.Event.ChannelAfter
	revert.Name = c.Event.ChannelBefore.Name
	eng.warnFailed(c, "revert rename", eng.Platform.EditChannel(ctx, c.Event.TenantID, revert, "Anti-Raid: mass rename revert"))
	return incident.StatusReverted, true
}

func roleID(evt *SecurityEvent) string {
	if evt.RoleAfter != nil {
		return evt.RoleAfter.ID
	}
	if evt.RoleBefore != nil {
		return evt.RoleBefore.ID
	}
	return ""
}

func deleteCreatedRole(ctx context.Context, eng *Engine, c *eventContext) (incident.Status, bool) {
	if id := roleID(c.Event); id != "" {
		eng.warnFailed(c, "delete role", eng.Platform.DeleteRole(ctx, c.Event.TenantID, id, "Anti-Raid: Unauthorized Role Creation"))
	}
	return incident.StatusDeleted, true
}

func recreateDeletedRole(ctx context.Context, eng *Engine, c *eventContext) (incident.Status, bool) {
	if before := c.Event.RoleBefore; before != nil {
		eng.warnFailed(c, "recreate role", eng.Platform.CreateRole(ctx, c.Event.TenantID, *before, "Anti-Raid: Unauthorized Role Deletion"))
	}
	return incident.StatusDetected, true
}

func roleChanged(evt *SecurityEvent) bool {
	if evt.RoleBefore == nil || evt.RoleAfter == nil {
		return false
	}
	return evt.RoleBefore.Name != evt.RoleAfter.Name || evt.RoleBefore.Permissions != evt.RoleAfter.Permissions
}

func revertRoleUpdate(ctx context.Context, eng *Engine, c *eventContext) (incident.Status, bool) {
	revert := *c.Event.RoleAfter
	revert.Name = c.Event.RoleBefore.Name
	revert.Permissions = c.Event.RoleBefore.Permissions
	eng.warnFailed(c, "revert role", eng.Platform.EditRole(ctx, c.Event.TenantID, revert, "Anti-Raid: revert role update"))
	return incident.StatusReverted, true
}

// Deletes the created webhook, or every webhook in the channel when the platform did not say which one was created.
func deleteCreatedWebhooks(ctx context.Context, eng *Engine, c *eventContext) (incident.Status, bool) {
	tenantID := c.Event.TenantID
	if c.Event.WebhookID != "" {
		err := eng.Platform.DeleteWebhook(ctx, tenantID, c.Event.WebhookID, "Anti-Webhook: unauthorized")
		if err != nil && !errors.Is(err, platform.ErrNotFound) {
			eng.warnFailed(c, "delete webhook", err)
			return incident.StatusFailed, false
		}
		return incident.StatusDeleted, true
	}
	hooks, err := eng.Platform.ChannelWebhooks(ctx, tenantID, c.Event.ChannelID)
	if err != nil {
		eng.warnFailed(c, "list webhooks", err)
		return incident.StatusFailed, false
	}
	for _, id := range hooks {
		eng.warnFailed(c, "delete webhook", eng.Platform.DeleteWebhook(ctx, tenantID, id, "Anti-Webhook: unauthorized"))
	}
	return incident.StatusDeleted, true
}

func vanityChanged(evt *SecurityEvent) bool {
	return evt.GuildBefore != nil && evt.GuildAfter != nil && evt.GuildBefore.VanityCode != evt.GuildAfter.VanityCode
}
