package panel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wardenbot/warden/antinuke/licensestore"
	"github.com/wardenbot/warden/antinuke/policystore"
)

const Title = "SECURITY CONTROL PANEL"

// display labels, keyed by flag
var flagLabels = map[policystore.Flag]string{
	policystore.AutoKick:          "Auto-Kick",
	policystore.AutoTimeout:       "Auto-Timeout",
	policystore.AntiChannelCreate: "Anti-ChannelCreate",
	policystore.AntiChannelDelete: "Anti-ChannelDelete",
	policystore.AntiRoleCreate:    "Anti-RoleCreate",
	policystore.AntiRoleDelete:    "Anti-RoleDelete",
	policystore.AntiRoleUpdate:    "Anti-RoleUpdate",
	policystore.AntiWebhook:       "Anti-Webhook",
	policystore.AntiRaid:          "Anti-Raid",
}

// Looks up the license record shown for a tenant.
type LicenseLookup interface {
	Lookup(ctx context.Context, tenantID string) (*licensestore.Record, error)
}

// Read model of a tenant's panel. Recomputed on demand, never cached.
type Snapshot struct {
	TenantID         string                    `json:"tenant_id"`
	Toggles          map[policystore.Flag]bool `json:"toggles"`
	LicenseRemaining string                    `json:"license_remaining"`
	AllowListCount   int                       `json:"allow_list_count"`
}

func BuildSnapshot(ctx context.Context, policies policystore.Store, licenses LicenseLookup, tenantID string, now time.Time) (*Snapshot, error) {
	pol, err := policies.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant policy: %w", err)
	}
	rec, err := licenses.Lookup(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("looking up license: %w", err)
	}
	toggles := make(map[policystore.Flag]bool, len(policystore.AllFlags))
	for _, f := range policystore.AllFlags {
		toggles[f] = pol.Enabled(f)
	}
	return &Snapshot{
		TenantID:         tenantID,
		Toggles:          toggles,
		LicenseRemaining: RemainingHuman(rec, now),
		AllowListCount:   len(pol.AllowList),
	}, nil
}

// Describes the license state, for example "Key expires in 6d 23h 59m 10s". A nil record or an unparseable expiry reads as no license.
func RemainingHuman(rec *licensestore.Record, now time.Time) string {
	if rec == nil {
		return "No active license"
	}
	exp, permanent, err := rec.Expiry()
	if err != nil {
		return "No active license"
	}
	if permanent {
		return "Key: permanent"
	}
	if !exp.After(now) {
		return "Key: expired"
	}
	rem := exp.Sub(now).Truncate(time.Second)
	days := rem / (24 * time.Hour)
	rem -= days * 24 * time.Hour
	hours := rem / time.Hour
	rem -= hours * time.Hour
	mins := rem / time.Minute
	rem -= mins * time.Minute
	secs := rem / time.Second
	return fmt.Sprintf("Key expires in %dd %dh %dm %ds", days, hours, mins, secs)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// Message text for the panel.
func (s *Snapshot) Render() string {
	var b strings.Builder
	b.WriteString(Title)
	b.WriteString("\nUse the admin API or `warden policy toggle` to change features.\n\n")
	for _, f := range policystore.AllFlags {
		fmt.Fprintf(&b, "%s: %s\n", flagLabels[f], onOff(s.Toggles[f]))
	}
	fmt.Fprintf(&b, "\nLicense: %s\n", s.LicenseRemaining)
	fmt.Fprintf(&b, "Allow-list count: %d", s.AllowListCount)
	return b.String()
}
