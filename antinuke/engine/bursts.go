package engine

import (
	"context"
	"time"

	"github.com/wardenbot/warden/antinuke/incident"
	"github.com/wardenbot/warden/antinuke/policystore"
	"github.com/wardenbot/warden/antinuke/trackstore"
)

const (
	spamLabel       = "Spam messages auto-deleted"
	spamTimeoutNote = "Spam rate-limit"
	// most recent messages scanned when purging a burst
	spamPurgeLimit = 200
)

// Message burst flow: purge the author's recent messages, add a strike, and time the author out once strikes reach the threshold. Spam is handled whether or not the tenant is licensed.
func (eng *Engine) processMessage(ctx context.Context, c *eventContext) error {
	evt := c.Event
	if evt.ActorID == "" {
		return nil
	}
	c.Actor = Unresolved(evt.ActorID, evt.ActorBot)
	c.Logger = c.Logger.With("actor", evt.ActorID)
	if c.Actor.Bot || evt.ActorID == eng.Platform.BotUserID() {
		return deny(c, gateBot)
	}
	if c.Policy.Allowed(evt.ActorID) {
		return deny(c, gateAllowList)
	}

	det := trackstore.Detector{
		Window:    time.Duration(c.Policy.SpamWindowSeconds) * time.Second,
		Threshold: int(c.Policy.SpamThreshold),
	}
	key := trackstore.Key{Tenant: evt.TenantID, Actor: evt.ActorID, Kind: trackstore.KindMessage}
	tripped, _, err := det.Hit(ctx, eng.Trackers, key, eng.now())
	if err != nil {
		c.Logger.Warn("message tracker failed", "err", err)
		return err
	}
	if !tripped {
		return nil
	}
	detectorTripCount.WithLabelValues(string(trackstore.KindMessage)).Inc()

	if evt.ChannelID != "" {
		n, err := eng.Platform.PurgeMessages(ctx, evt.TenantID, evt.ChannelID, evt.ActorID, spamPurgeLimit)
		eng.warnFailed(c, "purge messages", err)
		c.Logger.Debug("purged burst messages", "count", n)
	}
	strikes, err := eng.Trackers.AddStrike(ctx, key)
	if err != nil {
		c.Logger.Warn("failed to record spam strike", "err", err)
		return err
	}
	eng.logIncident(ctx, c, evt.ActorID, spamLabel, incident.StatusSpamDeleted)

	if strikes < int(c.Policy.StrikesToTimeout) {
		return nil
	}
	if !eng.guard.acquire(evt.TenantID, evt.ActorID) {
		c.Logger.Info("punishment already in flight, skipping")
		return nil
	}
	err = eng.remediate(ctx, c, spamTimeoutNote, actionTimeout)
	eng.guard.release(evt.TenantID, evt.ActorID)
	if err != nil {
		return err
	}
	if c.punished == string(actionTimeout) {
		if err := eng.Trackers.ResetStrikes(ctx, key); err != nil {
			c.Logger.Warn("failed to reset spam strikes", "err", err)
		}
	}
	return nil
}

// Join burst detection. Joins are counted per tenant, not per member; a trip only notifies the hook.
func (eng *Engine) processJoin(ctx context.Context, c *eventContext) error {
	if err := eng.toggleGate(c, policystore.AntiRaid); err != nil {
		return err
	}
	evt := c.Event
	c.Actor = Unresolved(evt.ActorID, evt.ActorBot)

	det := trackstore.Detector{
		Window:    time.Duration(c.Policy.JoinWindowSeconds) * time.Second,
		Threshold: int(c.Policy.JoinThreshold),
	}
	key := trackstore.Key{Tenant: evt.TenantID, Kind: trackstore.KindJoin}
	tripped, count, err := det.Hit(ctx, eng.Trackers, key, eng.now())
	if err != nil {
		c.Logger.Warn("join tracker failed", "err", err)
		return err
	}
	if !tripped {
		return nil
	}
	detectorTripCount.WithLabelValues(string(trackstore.KindJoin)).Inc()
	if !eng.Licenses.IsLicensed(ctx, evt.TenantID) {
		return deny(c, gateLicense)
	}
	c.Logger.Warn("join burst detected", "member", evt.ActorID, "count", count, "window", det.Window)
	if eng.OnJoinBurst != nil {
		eng.OnJoinBurst(ctx, evt.TenantID, evt.ActorID, count)
	}
	return nil
}
