// Interfaces for the chat platform collaborator consumed by the anti-nuke engine.
//
// The engine never talks to the platform REST API directly: it goes through these interfaces, which are implemented by the discord adapter (`antinuke/discord`) in production and by `MockPlatform` in tests.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// returned by implementations when the platform refused a call for lack of permissions (eg, HTTP 403)
	ErrForbidden = errors.New("platform: forbidden")
	// returned by implementations when the referenced member, channel, role or message does not exist
	ErrNotFound = errors.New("platform: not found")
)

// Audit log action categories which can be queried for actor attribution.
type AuditAction string

const (
	AuditChannelCreate AuditAction = "channel_create"
	AuditChannelUpdate AuditAction = "channel_update"
	AuditChannelDelete AuditAction = "channel_delete"
	AuditRoleCreate    AuditAction = "role_create"
	AuditRoleUpdate    AuditAction = "role_update"
	AuditRoleDelete    AuditAction = "role_delete"
	AuditWebhookCreate AuditAction = "webhook_create"
	AuditGuildUpdate   AuditAction = "guild_update"
)

type AuditEntry struct {
	ActorID   string
	ActorBot  bool
	TargetID  string
	CreatedAt time.Time
}

// Guild-level permission bits, as far as the engine cares about them.
type Permissions int64

const (
	PermKickMembers Permissions = 1 << iota
	PermModerateMembers
	PermManageChannels
	PermManageRoles
	PermManageWebhooks
	PermManageMessages
	PermAdministrator
)

// Administrator implies every other permission.
func (p Permissions) Has(want Permissions) bool {
	if p&PermAdministrator != 0 {
		return true
	}
	return p&want == want
}

// A resolved tenant member.
type Member struct {
	UserID string
	Bot    bool
	// position of the member's highest role; higher ranks above lower
	TopRolePosition int
	Owner           bool
	// IDs of the roles the member holds
	Roles []string
}

func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

type ChannelState struct {
	ID       string
	Name     string
	Topic    string
	Type     int
	ParentID string
	Position int
	NSFW     bool
}

type RoleState struct {
	ID          string
	Name        string
	Permissions int64
	Color       int
	Hoist       bool
	Mentionable bool
	Position    int
}

type GuildState struct {
	ID         string
	Name       string
	VanityCode string
	OwnerID    string
}

type AuditLog interface {
	// returns the most recent entries for the action category, newest first
	QueryAuditLog(ctx context.Context, tenantID string, action AuditAction, limit int) ([]AuditEntry, error)
}

type Members interface {
	BotUserID() string
	GetMember(ctx context.Context, tenantID, userID string) (*Member, error)
	BotPermissions(ctx context.Context, tenantID string) (Permissions, error)
}

type Moderator interface {
	Kick(ctx context.Context, tenantID, userID, reason string) error
	Timeout(ctx context.Context, tenantID, userID string, until time.Time, reason string) error
}

type Resources interface {
	CreateChannel(ctx context.Context, tenantID string, ch ChannelState, reason string) error
	EditChannel(ctx context.Context, tenantID string, ch ChannelState, reason string) error
	DeleteChannel(ctx context.Context, tenantID, channelID, reason string) error
	CreateRole(ctx context.Context, tenantID string, role RoleState, reason string) error
	EditRole(ctx context.Context, tenantID string, role RoleState, reason string) error
	DeleteRole(ctx context.Context, tenantID, roleID, reason string) error
	ChannelWebhooks(ctx context.Context, tenantID, channelID string) ([]string, error)
	DeleteWebhook(ctx context.Context, tenantID, webhookID, reason string) error
	// deletes up to limit of the author's most recent messages in the channel, returning how many were removed
	PurgeMessages(ctx context.Context, tenantID, channelID, authorID string, limit int) (int, error)
}

type Messenger interface {
	// finds a text channel by name, creating it if missing; returns the channel ID
	EnsureTextChannel(ctx context.Context, tenantID, name string) (string, error)
	DeleteChannelByName(ctx context.Context, tenantID, name, reason string) error
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
}

// Member self-verification through a button in a channel gated on a role.
type Verification interface {
	// finds a role by name, creating it without permissions if missing; returns the role ID
	EnsureRole(ctx context.Context, tenantID, name string) (string, error)
	// finds a text channel by name, creating it readable by everyone but writable only by holders of the role
	EnsureGatedChannel(ctx context.Context, tenantID, name, roleID string) (string, error)
	// posts content with a single button; pressing it delivers an interaction carrying customID
	SendButton(ctx context.Context, channelID, content, label, customID string) (string, error)
	AddRole(ctx context.Context, tenantID, userID, roleID, reason string) error
}

// Everything the engine and its surrounding services consume from the platform.
type Platform interface {
	AuditLog
	Members
	Moderator
	Resources
	Messenger
	Verification
}
