package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/wardenbot/warden/antinuke/platform"
)

var auditActions = map[platform.AuditAction]discordgo.AuditLogAction{
	platform.AuditChannelCreate: discordgo.AuditLogActionChannelCreate,
	platform.AuditChannelUpdate: discordgo.AuditLogActionChannelUpdate,
	platform.AuditChannelDelete: discordgo.AuditLogActionChannelDelete,
	platform.AuditRoleCreate:    discordgo.AuditLogActionRoleCreate,
	platform.AuditRoleUpdate:    discordgo.AuditLogActionRoleUpdate,
	platform.AuditRoleDelete:    discordgo.AuditLogActionRoleDelete,
	platform.AuditWebhookCreate: discordgo.AuditLogActionWebhookCreate,
	platform.AuditGuildUpdate:   discordgo.AuditLogActionGuildUpdate,
}

var permissionBits = []struct {
	discord int64
	perm    platform.Permissions
}{
	{discordgo.PermissionKickMembers, platform.PermKickMembers},
	{discordgo.PermissionModerateMembers, platform.PermModerateMembers},
	{discordgo.PermissionManageChannels, platform.PermManageChannels},
	{discordgo.PermissionManageRoles, platform.PermManageRoles},
	{discordgo.PermissionManageWebhooks, platform.PermManageWebhooks},
	{discordgo.PermissionManageMessages, platform.PermManageMessages},
	{discordgo.PermissionAdministrator, platform.PermAdministrator},
}

func toPermissions(bits int64) platform.Permissions {
	var out platform.Permissions
	for _, b := range permissionBits {
		if bits&b.discord != 0 {
			out |= b.perm
		}
	}
	return out
}

// Guild-level permissions granted by the member's roles plus @everyone (whose role ID equals the guild ID).
func memberPermissions(guildID string, roles []*discordgo.Role, memberRoles []string) int64 {
	held := make(map[string]bool, len(memberRoles)+1)
	held[guildID] = true
	for _, id := range memberRoles {
		held[id] = true
	}
	var bits int64
	for _, r := range roles {
		if held[r.ID] {
			bits |= r.Permissions
		}
	}
	return bits
}

// Position of the member's highest role; zero for members holding only @everyone.
func topRolePosition(roles []*discordgo.Role, memberRoles []string) int {
	held := make(map[string]bool, len(memberRoles))
	for _, id := range memberRoles {
		held[id] = true
	}
	top := 0
	for _, r := range roles {
		if held[r.ID] && r.Position > top {
			top = r.Position
		}
	}
	return top
}

func channelState(ch *discordgo.Channel) *platform.ChannelState {
	if ch == nil {
		return nil
	}
	return &platform.ChannelState{
		ID:       ch.ID,
		Name:     ch.Name,
		Topic:    ch.Topic,
		Type:     int(ch.Type),
		ParentID: ch.ParentID,
		Position: ch.Position,
		NSFW:     ch.NSFW,
	}
}

func roleState(r *discordgo.Role) *platform.RoleState {
	if r == nil {
		return nil
	}
	return &platform.RoleState{
		ID:          r.ID,
		Name:        r.Name,
		Permissions: r.Permissions,
		Color:       r.Color,
		Hoist:       r.Hoist,
		Mentionable: r.Mentionable,
		Position:    r.Position,
	}
}

func guildState(g *discordgo.Guild) *platform.GuildState {
	if g == nil {
		return nil
	}
	return &platform.GuildState{
		ID:         g.ID,
		Name:       g.Name,
		VanityCode: g.VanityURLCode,
		OwnerID:    g.OwnerID,
	}
}

// Maps REST failures onto the platform error vocabulary. The underlying error stays in the chain.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, platform.ErrForbidden, err)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, platform.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

const readOnlyPerms = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory

// Everyone may read the channel; only holders of the role, and the bot, may send. The @everyone role shares the guild ID.
func gatedOverwrites(guildID, roleID, botID string) []*discordgo.PermissionOverwrite {
	out := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Allow: readOnlyPerms, Deny: discordgo.PermissionSendMessages},
		{ID: roleID, Type: discordgo.PermissionOverwriteTypeRole, Allow: readOnlyPerms | discordgo.PermissionSendMessages},
	}
	if botID != "" {
		out = append(out, &discordgo.PermissionOverwrite{ID: botID, Type: discordgo.PermissionOverwriteTypeMember, Allow: readOnlyPerms | discordgo.PermissionSendMessages})
	}
	return out
}
