package policystore

import (
	"context"
	"fmt"
	"sort"
)

type Flag string

const (
	AntiChannelCreate Flag = "anti_channel_create"
	AntiChannelDelete Flag = "anti_channel_delete"
	AntiRoleCreate    Flag = "anti_role_create"
	AntiRoleDelete    Flag = "anti_role_delete"
	AntiRoleUpdate    Flag = "anti_role_update"
	AntiWebhook       Flag = "anti_webhook"
	AntiRaid          Flag = "anti_raid"
	AutoKick          Flag = "auto_kick"
	AutoTimeout       Flag = "auto_timeout"
)

// All known flags, in panel display order.
var AllFlags = []Flag{
	AutoKick,
	AutoTimeout,
	AntiChannelCreate,
	AntiChannelDelete,
	AntiRoleCreate,
	AntiRoleDelete,
	AntiRoleUpdate,
	AntiWebhook,
	AntiRaid,
}

func ParseFlag(raw string) (Flag, error) {
	for _, f := range AllFlags {
		if string(f) == raw {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown policy flag: %s", raw)
}

// Per-tenant anti-nuke configuration.
//
// Values read from a Store are private copies: mutating them has no effect until written back through Store.Update.
type TenantPolicy struct {
	Toggles           map[Flag]bool `json:"toggles"`
	AllowList         []string      `json:"allow_list"`
	RateLimitHours    uint          `json:"rate_limit_hours"`
	SpamThreshold     uint          `json:"spam_delete_threshold"`
	SpamWindowSeconds uint          `json:"spam_delete_window"`
	StrikesToTimeout  uint          `json:"spam_strike_timeout_threshold"`
	JoinThreshold     uint          `json:"join_threshold"`
	JoinWindowSeconds uint          `json:"join_window"`

	ShameChannel string `json:"shame_channel_name"`
	LogsChannel  string `json:"logs_channel_name"`
	PanelChannel string `json:"panel_channel_name"`

	// members press a button in the verify channel to receive the verify role, which grants sending there
	VerifyChannel string `json:"verify_channel_name"`
	VerifyRole    string `json:"verify_role_name"`

	// location of the published control panel message, if any
	PanelChannelID string `json:"panel_channel_id,omitempty"`
	PanelMessageID string `json:"panel_message_id,omitempty"`
}

func DefaultPolicy() *TenantPolicy {
	return &TenantPolicy{
		Toggles: map[Flag]bool{
			AntiChannelCreate: true,
			AntiChannelDelete: true,
			AntiRoleCreate:    true,
			AntiRoleDelete:    true,
			AntiRoleUpdate:    true,
			AntiWebhook:       true,
			AntiRaid:          true,
			AutoKick:          true,
			AutoTimeout:       false,
		},
		AllowList:         []string{},
		RateLimitHours:    12,
		SpamThreshold:     5,
		SpamWindowSeconds: 5,
		StrikesToTimeout:  1,
		JoinThreshold:     10,
		JoinWindowSeconds: 10,
		ShameChannel:      "shame",
		LogsChannel:       "security-logs",
		PanelChannel:      "security-panel",
		VerifyChannel:     "verify",
		VerifyRole:        "$verified",
	}
}

func (p *TenantPolicy) Clone() *TenantPolicy {
	out := *p
	out.Toggles = make(map[Flag]bool, len(p.Toggles))
	for k, v := range p.Toggles {
		out.Toggles[k] = v
	}
	out.AllowList = append([]string{}, p.AllowList...)
	return &out
}

func (p *TenantPolicy) Enabled(f Flag) bool {
	return p.Toggles[f]
}

// Sets a toggle, keeping auto_kick and auto_timeout mutually exclusive: enabling one disables the other.
func (p *TenantPolicy) SetToggle(f Flag, on bool) {
	if p.Toggles == nil {
		p.Toggles = make(map[Flag]bool)
	}
	p.Toggles[f] = on
	if !on {
		return
	}
	switch f {
	case AutoKick:
		p.Toggles[AutoTimeout] = false
	case AutoTimeout:
		p.Toggles[AutoKick] = false
	}
}

func (p *TenantPolicy) Allowed(actorID string) bool {
	for _, id := range p.AllowList {
		if id == actorID {
			return true
		}
	}
	return false
}

// Adds to the allow-list, keeping it sorted and de-duplicated.
func (p *TenantPolicy) Allow(actorID string) {
	if p.Allowed(actorID) {
		return
	}
	p.AllowList = append(p.AllowList, actorID)
	sort.Strings(p.AllowList)
}

// does not error if the actor was not on the list
func (p *TenantPolicy) Disallow(actorID string) {
	out := make([]string, 0, len(p.AllowList))
	for _, id := range p.AllowList {
		if id != actorID {
			out = append(out, id)
		}
	}
	p.AllowList = out
}

// Repairs a policy loaded from storage: fills zero-valued settings with defaults, and resolves a stored auto_kick+auto_timeout conflict in favor of auto_kick.
func (p *TenantPolicy) normalize() {
	def := DefaultPolicy()
	if p.Toggles == nil {
		p.Toggles = def.Toggles
	}
	for _, f := range AllFlags {
		if _, ok := p.Toggles[f]; !ok {
			p.Toggles[f] = def.Toggles[f]
		}
	}
	if p.Toggles[AutoKick] && p.Toggles[AutoTimeout] {
		p.Toggles[AutoTimeout] = false
	}
	if p.AllowList == nil {
		p.AllowList = []string{}
	}
	if p.RateLimitHours == 0 {
		p.RateLimitHours = def.RateLimitHours
	}
	if p.SpamWindowSeconds == 0 {
		p.SpamWindowSeconds = def.SpamWindowSeconds
	}
	if p.StrikesToTimeout == 0 {
		p.StrikesToTimeout = def.StrikesToTimeout
	}
	if p.JoinWindowSeconds == 0 {
		p.JoinWindowSeconds = def.JoinWindowSeconds
	}
	if p.ShameChannel == "" {
		p.ShameChannel = def.ShameChannel
	}
	if p.LogsChannel == "" {
		p.LogsChannel = def.LogsChannel
	}
	if p.PanelChannel == "" {
		p.PanelChannel = def.PanelChannel
	}
	if p.VerifyChannel == "" {
		p.VerifyChannel = def.VerifyChannel
	}
	if p.VerifyRole == "" {
		p.VerifyRole = def.VerifyRole
	}
}

// Per-tenant policy storage.
//
// Get always returns a fresh private copy (a tenant with no stored policy gets the defaults). Update is the only write path: implementations serialize concurrent updates so read-modify-write cycles never lose writes.
type Store interface {
	Get(ctx context.Context, tenantID string) (*TenantPolicy, error)
	Update(ctx context.Context, tenantID string, fn func(p *TenantPolicy) error) (*TenantPolicy, error)
	// lists tenants which have a stored policy
	Tenants(ctx context.Context) ([]string, error)
}

// Helper for the common toggle mutation.
func SetToggle(ctx context.Context, s Store, tenantID string, f Flag, on bool) (*TenantPolicy, error) {
	return s.Update(ctx, tenantID, func(p *TenantPolicy) error {
		p.SetToggle(f, on)
		return nil
	})
}
