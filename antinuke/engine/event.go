package engine

import (
	"github.com/wardenbot/warden/antinuke/platform"
)

type EventKind string

const (
	KindChannelCreate       EventKind = "channel_create"
	KindChannelDelete       EventKind = "channel_delete"
	KindChannelUpdate       EventKind = "channel_update"
	KindRoleCreate          EventKind = "role_create"
	KindRoleDelete          EventKind = "role_delete"
	KindRoleUpdate          EventKind = "role_update"
	KindWebhookCreate       EventKind = "webhook_create"
	KindGuildPropertyChange EventKind = "guild_update"
	KindMessage             EventKind = "message"
	KindMemberJoin          EventKind = "member_join"
)

// A platform notification of a security-relevant change.
//
// Mutation events carry no actor: it is attributed from the audit log. Message and join events carry the author or joining member in ActorID.
type SecurityEvent struct {
	Kind     EventKind
	TenantID string

	// set for message and join events
	ActorID  string
	ActorBot bool

	// channel the change happened in (channel events, webhooks, messages)
	ChannelID string
	// created webhook, when the platform reports it
	WebhookID string

	ChannelBefore *platform.ChannelState
	ChannelAfter  *platform.ChannelState
	RoleBefore    *platform.RoleState
	RoleAfter     *platform.RoleState
	GuildBefore   *platform.GuildState
	GuildAfter    *platform.GuildState
}

// The principal behind an event. An actor starts unresolved (audit log ID only) and must be resolved to a live member before any punishment.
type Actor struct {
	ID     string
	Bot    bool
	Member *platform.Member
}

func Unresolved(id string, bot bool) Actor {
	return Actor{ID: id, Bot: bot}
}

func (a Actor) Resolved() bool {
	return a.Member != nil
}
