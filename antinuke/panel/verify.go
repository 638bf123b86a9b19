package panel

import (
	"context"
	"errors"
	"fmt"

	"github.com/wardenbot/warden/antinuke/cachestore"
	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
)

const (
	// custom ID carried by verify button interactions
	VerifyButtonID = "warden:verify"

	verifyPrompt  = "Press the button below to verify yourself."
	verifyLabel   = "Verify"
	verifyReason  = "Verified"
	verifyCacheNS = "verify-role"
)

type VerifyOutcome int

const (
	Verified VerifyOutcome = iota
	AlreadyVerified
)

// cached verify role location; Name guards against a renamed role setting
type verifyRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Ensures the verify role and the channel gated on it, then posts the verify button.
func (p *Publisher) publishVerify(ctx context.Context, tenantID string, pol *policystore.TenantPolicy) error {
	roleID, err := p.verifyRoleID(ctx, tenantID, pol.VerifyRole)
	if err != nil {
		return fmt.Errorf("ensuring verify role: %w", err)
	}
	channelID, err := p.Platform.EnsureGatedChannel(ctx, tenantID, pol.VerifyChannel, roleID)
	if err != nil {
		return fmt.Errorf("ensuring verify channel: %w", err)
	}
	if _, err := p.Platform.SendButton(ctx, channelID, verifyPrompt, verifyLabel, VerifyButtonID); err != nil {
		return fmt.Errorf("posting verify button: %w", err)
	}
	return nil
}

func (p *Publisher) verifyRoleID(ctx context.Context, tenantID, name string) (string, error) {
	if p.Cache != nil {
		ref, err := cachestore.GetJSON[verifyRole](ctx, p.Cache, verifyCacheNS, tenantID)
		if err != nil {
			p.Logger.Warn("verify role cache read failed", "err", err)
		} else if ref != nil && ref.Name == name {
			return ref.ID, nil
		}
	}
	id, err := p.Platform.EnsureRole(ctx, tenantID, name)
	if err != nil {
		return "", err
	}
	if p.Cache != nil {
		if err := cachestore.SetJSON(ctx, p.Cache, verifyCacheNS, tenantID, verifyRole{ID: id, Name: name}); err != nil {
			p.Logger.Warn("verify role cache write failed", "err", err)
		}
	}
	return id, nil
}

func (p *Publisher) forgetVerifyRole(ctx context.Context, tenantID string) {
	if p.Cache == nil {
		return
	}
	if err := p.Cache.Purge(ctx, verifyCacheNS, tenantID); err != nil {
		p.Logger.Warn("verify role cache purge failed", "err", err)
	}
}

// Grants the tenant's verify role to a member who pressed the verify button. A cached role which no longer exists is re-resolved once.
func (p *Publisher) Verify(ctx context.Context, tenantID, userID string) (VerifyOutcome, error) {
	pol, err := p.Policies.Get(ctx, tenantID)
	if err != nil {
		return Verified, err
	}
	roleID, err := p.verifyRoleID(ctx, tenantID, pol.VerifyRole)
	if err != nil {
		return Verified, fmt.Errorf("resolving verify role: %w", err)
	}
	member, err := p.Platform.GetMember(ctx, tenantID, userID)
	if err != nil {
		return Verified, fmt.Errorf("resolving member: %w", err)
	}
	if member.HasRole(roleID) {
		return AlreadyVerified, nil
	}
	err = p.Platform.AddRole(ctx, tenantID, userID, roleID, verifyReason)
	if errors.Is(err, platform.ErrNotFound) {
		p.forgetVerifyRole(ctx, tenantID)
		roleID, err = p.verifyRoleID(ctx, tenantID, pol.VerifyRole)
		if err != nil {
			return Verified, fmt.Errorf("resolving verify role: %w", err)
		}
		err = p.Platform.AddRole(ctx, tenantID, userID, roleID, verifyReason)
	}
	if err != nil {
		return Verified, fmt.Errorf("adding verify role: %w", err)
	}
	p.Logger.Info("verified member", "tenant", tenantID, "member", userID)
	return Verified, nil
}

// Ephemeral reply text for a verify button press.
func VerifyReply(outcome VerifyOutcome, err error) string {
	switch {
	case err != nil:
		return "Failed to add role (missing perms)."
	case outcome == AlreadyVerified:
		return "You are already verified."
	default:
		return "You have been verified!"
	}
}
