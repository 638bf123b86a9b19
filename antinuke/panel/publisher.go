package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenbot/warden/antinuke/cachestore"
	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
)

// Returned by Publish for tenants without a valid license.
var ErrUnlicensed = errors.New("tenant is not licensed")

// Posts a message to a named tenant system channel, creating the channel if needed. Implemented by incident.ChannelSink.
type Sender interface {
	Send(ctx context.Context, tenantID, channelName, content string) (channelID, messageID string, err error)
}

// Platform calls made directly by the publisher.
type Platform interface {
	platform.Messenger
	platform.Verification
	GetMember(ctx context.Context, tenantID, userID string) (*platform.Member, error)
}

// Publishes panel messages and keeps them current. Also owns member verification, which is set up alongside the panel.
type Publisher struct {
	Policies policystore.Store
	Licenses LicenseLookup
	Sender   Sender
	Platform Platform
	// optional; remembers verify role IDs
	Cache  cachestore.Store
	Logger *slog.Logger
	// may publish for unlicensed tenants
	SuperAdminID string
	Now          func() time.Time
}

func NewPublisher(policies policystore.Store, licenses LicenseLookup, sender Sender, plat Platform, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		Policies: policies,
		Licenses: licenses,
		Sender:   sender,
		Platform: plat,
		Logger:   logger.With("component", "panel"),
		Now:      time.Now,
	}
}

func (p *Publisher) Snapshot(ctx context.Context, tenantID string) (*Snapshot, error) {
	return BuildSnapshot(ctx, p.Policies, p.Licenses, tenantID, p.Now().UTC())
}

// Posts a fresh panel message to the tenant's panel channel and remembers its location in the tenant policy. Any earlier panel message is abandoned. The verify channel and its button are set up on a best-effort basis.
//
// Unlicensed tenants are refused unless actorID is the super-admin.
func (p *Publisher) Publish(ctx context.Context, tenantID, actorID string) (*Snapshot, error) {
	if p.SuperAdminID == "" || actorID != p.SuperAdminID {
		rec, err := p.Licenses.Lookup(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("looking up license: %w", err)
		}
		if rec == nil || !rec.ValidAt(p.Now().UTC()) {
			return nil, ErrUnlicensed
		}
	}
	snap, err := p.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	pol, err := p.Policies.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	channelID, messageID, err := p.Sender.Send(ctx, tenantID, pol.PanelChannel, snap.Render())
	if err != nil {
		return nil, fmt.Errorf("posting panel: %w", err)
	}
	_, err = p.Policies.Update(ctx, tenantID, func(pol *policystore.TenantPolicy) error {
		pol.PanelChannelID = channelID
		pol.PanelMessageID = messageID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving panel location: %w", err)
	}
	p.Logger.Info("published panel", "tenant", tenantID, "channel", channelID, "message", messageID)

	if err := p.publishVerify(ctx, tenantID, pol); err != nil {
		p.Logger.Warn("failed to set up verify channel", "tenant", tenantID, "err", err)
	}
	return snap, nil
}

// Re-renders the tenant's published panel in place. Tenants without a panel are skipped. A panel message which no longer exists is forgotten.
func (p *Publisher) Refresh(ctx context.Context, tenantID string) error {
	pol, err := p.Policies.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if pol.PanelMessageID == "" {
		return nil
	}
	snap, err := p.Snapshot(ctx, tenantID)
	if err != nil {
		return err
	}
	err = p.Platform.EditMessage(ctx, pol.PanelChannelID, pol.PanelMessageID, snap.Render())
	if errors.Is(err, platform.ErrNotFound) {
		p.Logger.Info("panel message gone, forgetting it", "tenant", tenantID, "message", pol.PanelMessageID)
		messageID := pol.PanelMessageID
		_, err = p.Policies.Update(ctx, tenantID, func(pol *policystore.TenantPolicy) error {
			// a concurrent publish may have replaced it
			if pol.PanelMessageID == messageID {
				pol.PanelChannelID = ""
				pol.PanelMessageID = ""
			}
			return nil
		})
		return err
	}
	return err
}

// Refreshes every tenant with a stored policy. Per-tenant failures are logged and do not stop the pass.
func (p *Publisher) RefreshAll(ctx context.Context) error {
	tenants, err := p.Policies.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	for _, t := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.Refresh(ctx, t); err != nil {
			p.Logger.Warn("failed to refresh panel", "tenant", t, "err", err)
		}
	}
	return nil
}

// Periodically refreshes all panels until the context is cancelled.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.RefreshAll(ctx); err != nil && ctx.Err() == nil {
				p.Logger.Error("panel refresh pass failed", "err", err)
			}
		}
	}
}
