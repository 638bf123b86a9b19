package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/wardenbot/warden/antinuke/platform"
)

const (
	// page size limit of the message history endpoint, and of bulk delete
	messagePageSize = 100
	// bulk delete refuses older messages
	bulkDeleteMaxAge = 14 * 24 * time.Hour
)

// Implements platform.Platform over a discordgo session. REST calls share a client-side rate limiter, on top of discordgo's own per-route bucket handling.
type Client struct {
	Session *discordgo.Session
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

var _ platform.Platform = (*Client)(nil)

// Creates a client for a bot token. A non-positive rps disables the client-side limiter.
func NewClient(token string, rps float64, logger *slog.Logger) (*Client, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &Client{
		Session: sess,
		Limiter: lim,
		Logger:  logger.With("component", "discord"),
	}, nil
}

// Waits for limiter capacity and returns the per-request options.
func (c *Client) wait(ctx context.Context, op string) ([]discordgo.RequestOption, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return []discordgo.RequestOption{discordgo.WithContext(ctx)}, nil
}

func (c *Client) done(op string, err error) error {
	if err != nil {
		requestCount.WithLabelValues(op, "error").Inc()
		return mapError(op, err)
	}
	requestCount.WithLabelValues(op, "ok").Inc()
	return nil
}

func withReason(opts []discordgo.RequestOption, reason string) []discordgo.RequestOption {
	if reason == "" {
		return opts
	}
	return append(opts, discordgo.WithAuditLogReason(reason))
}

func (c *Client) QueryAuditLog(ctx context.Context, tenantID string, action platform.AuditAction, limit int) ([]platform.AuditEntry, error) {
	at, ok := auditActions[action]
	if !ok {
		return nil, fmt.Errorf("unsupported audit action: %s", action)
	}
	opts, err := c.wait(ctx, "audit_log")
	if err != nil {
		return nil, err
	}
	log, err := c.Session.GuildAuditLog(tenantID, "", "", int(at), limit, opts...)
	if err := c.done("audit_log", err); err != nil {
		return nil, err
	}
	bots := make(map[string]bool, len(log.Users))
	for _, u := range log.Users {
		bots[u.ID] = u.Bot
	}
	out := make([]platform.AuditEntry, 0, len(log.AuditLogEntries))
	for _, e := range log.AuditLogEntries {
		created, err := discordgo.SnowflakeTimestamp(e.ID)
		if err != nil {
			c.Logger.Warn("unparseable audit entry ID", "id", e.ID, "err", err)
		}
		out = append(out, platform.AuditEntry{
			ActorID:   e.UserID,
			ActorBot:  bots[e.UserID],
			TargetID:  e.TargetID,
			CreatedAt: created,
		})
	}
	return out, nil
}

func (c *Client) BotUserID() string {
	if c.Session.State != nil && c.Session.State.User != nil {
		return c.Session.State.User.ID
	}
	return ""
}

// Guild metadata from the gateway state cache, falling back to REST.
func (c *Client) guild(ctx context.Context, tenantID string) (*discordgo.Guild, error) {
	if c.Session.State != nil {
		if g, err := c.Session.State.Guild(tenantID); err == nil && len(g.Roles) > 0 {
			return g, nil
		}
	}
	opts, err := c.wait(ctx, "guild")
	if err != nil {
		return nil, err
	}
	g, err := c.Session.Guild(tenantID, opts...)
	if err := c.done("guild", err); err != nil {
		return nil, err
	}
	return g, nil
}

func (c *Client) member(ctx context.Context, tenantID, userID string) (*discordgo.Member, error) {
	if c.Session.State != nil {
		if m, err := c.Session.State.Member(tenantID, userID); err == nil {
			return m, nil
		}
	}
	opts, err := c.wait(ctx, "member")
	if err != nil {
		return nil, err
	}
	m, err := c.Session.GuildMember(tenantID, userID, opts...)
	if err := c.done("member", err); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Client) GetMember(ctx context.Context, tenantID, userID string) (*platform.Member, error) {
	g, err := c.guild(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	m, err := c.member(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	out := &platform.Member{
		UserID:          userID,
		TopRolePosition: topRolePosition(g.Roles, m.Roles),
		Owner:           g.OwnerID == userID,
		Roles:           append([]string{}, m.Roles...),
	}
	if m.User != nil {
		out.Bot = m.User.Bot
	}
	return out, nil
}

func (c *Client) BotPermissions(ctx context.Context, tenantID string) (platform.Permissions, error) {
	g, err := c.guild(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	botID := c.BotUserID()
	if botID == "" {
		return 0, fmt.Errorf("bot user unknown before gateway ready")
	}
	if g.OwnerID == botID {
		return platform.PermAdministrator, nil
	}
	m, err := c.member(ctx, tenantID, botID)
	if err != nil {
		return 0, err
	}
	return toPermissions(memberPermissions(g.ID, g.Roles, m.Roles)), nil
}

func (c *Client) Kick(ctx context.Context, tenantID, userID, reason string) error {
	opts, err := c.wait(ctx, "kick")
	if err != nil {
		return err
	}
	err = c.Session.GuildMemberDeleteWithReason(tenantID, userID, reason, opts...)
	return c.done("kick", err)
}

func (c *Client) Timeout(ctx context.Context, tenantID, userID string, until time.Time, reason string) error {
	opts, err := c.wait(ctx, "timeout")
	if err != nil {
		return err
	}
	err = c.Session.GuildMemberTimeout(tenantID, userID, &until, withReason(opts, reason)...)
	return c.done("timeout", err)
}

func (c *Client) CreateChannel(ctx context.Context, tenantID string, ch platform.ChannelState, reason string) error {
	opts, err := c.wait(ctx, "channel_create")
	if err != nil {
		return err
	}
	_, err = c.Session.GuildChannelCreateComplex(tenantID, discordgo.GuildChannelCreateData{
		Name:     ch.Name,
		Type:     discordgo.ChannelType(ch.Type),
		Topic:    ch.Topic,
		Position: ch.Position,
		ParentID: ch.ParentID,
		NSFW:     ch.NSFW,
	}, withReason(opts, reason)...)
	return c.done("channel_create", err)
}

func (c *Client) EditChannel(ctx context.Context, tenantID string, ch platform.ChannelState, reason string) error {
	opts, err := c.wait(ctx, "channel_edit")
	if err != nil {
		return err
	}
	_, err = c.Session.ChannelEdit(ch.ID, &discordgo.ChannelEdit{Name: ch.Name}, withReason(opts, reason)...)
	return c.done("channel_edit", err)
}

func (c *Client) DeleteChannel(ctx context.Context, tenantID, channelID, reason string) error {
	opts, err := c.wait(ctx, "channel_delete")
	if err != nil {
		return err
	}
	_, err = c.Session.ChannelDelete(channelID, withReason(opts, reason)...)
	return c.done("channel_delete", err)
}

func roleParams(role platform.RoleState) *discordgo.RoleParams {
	color := role.Color
	hoist := role.Hoist
	perms := role.Permissions
	mentionable := role.Mentionable
	return &discordgo.RoleParams{
		Name:        role.Name,
		Color:       &color,
		Hoist:       &hoist,
		Permissions: &perms,
		Mentionable: &mentionable,
	}
}

func (c *Client) CreateRole(ctx context.Context, tenantID string, role platform.RoleState, reason string) error {
	opts, err := c.wait(ctx, "role_create")
	if err != nil {
		return err
	}
	_, err = c.Session.GuildRoleCreate(tenantID, roleParams(role), withReason(opts, reason)...)
	return c.done("role_create", err)
}

func (c *Client) EditRole(ctx context.Context, tenantID string, role platform.RoleState, reason string) error {
	opts, err := c.wait(ctx, "role_edit")
	if err != nil {
		return err
	}
	_, err = c.Session.GuildRoleEdit(tenantID, role.ID, roleParams(role), withReason(opts, reason)...)
	return c.done("role_edit", err)
}

func (c *Client) DeleteRole(ctx context.Context, tenantID, roleID, reason string) error {
	opts, err := c.wait(ctx, "role_delete")
	if err != nil {
		return err
	}
	err = c.Session.GuildRoleDelete(tenantID, roleID, withReason(opts, reason)...)
	return c.done("role_delete", err)
}

func (c *Client) ChannelWebhooks(ctx context.Context, tenantID, channelID string) ([]string, error) {
	opts, err := c.wait(ctx, "webhooks_list")
	if err != nil {
		return nil, err
	}
	hooks, err := c.Session.ChannelWebhooks(channelID, opts...)
	if err := c.done("webhooks_list", err); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hooks))
	for _, h := range hooks {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func (c *Client) DeleteWebhook(ctx context.Context, tenantID, webhookID, reason string) error {
	opts, err := c.wait(ctx, "webhook_delete")
	if err != nil {
		return err
	}
	err = c.Session.WebhookDelete(webhookID, withReason(opts, reason)...)
	return c.done("webhook_delete", err)
}

// Scans up to limit recent messages of the channel and deletes those by the author. Messages too old for bulk deletion are skipped.
func (c *Client) PurgeMessages(ctx context.Context, tenantID, channelID, authorID string, limit int) (int, error) {
	cutoff := time.Now().Add(-bulkDeleteMaxAge)
	var ids []string
	before := ""
	for scanned := 0; scanned < limit; {
		page := min(messagePageSize, limit-scanned)
		opts, err := c.wait(ctx, "messages_list")
		if err != nil {
			return 0, err
		}
		msgs, err := c.Session.ChannelMessages(channelID, page, before, "", "", opts...)
		if err := c.done("messages_list", err); err != nil {
			return 0, err
		}
		for _, m := range msgs {
			if m.Author != nil && m.Author.ID == authorID && m.Timestamp.After(cutoff) {
				ids = append(ids, m.ID)
			}
		}
		scanned += len(msgs)
		if len(msgs) < page {
			break
		}
		before = msgs[len(msgs)-1].ID
	}

	deleted := 0
	for start := 0; start < len(ids); start += messagePageSize {
		chunk := ids[start:min(start+messagePageSize, len(ids))]
		opts, err := c.wait(ctx, "messages_delete")
		if err != nil {
			return deleted, err
		}
		if len(chunk) == 1 {
			err = c.Session.ChannelMessageDelete(channelID, chunk[0], opts...)
		} else {
			err = c.Session.ChannelMessagesBulkDelete(channelID, chunk, opts...)
		}
		if err := c.done("messages_delete", err); err != nil {
			return deleted, err
		}
		deleted += len(chunk)
	}
	return deleted, nil
}

// Text channels of the tenant with the given name, lowest position first.
func (c *Client) textChannelsNamed(ctx context.Context, tenantID, name string) ([]*discordgo.Channel, error) {
	opts, err := c.wait(ctx, "channels_list")
	if err != nil {
		return nil, err
	}
	chans, err := c.Session.GuildChannels(tenantID, opts...)
	if err := c.done("channels_list", err); err != nil {
		return nil, err
	}
	var out []*discordgo.Channel
	for _, ch := range chans {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (c *Client) EnsureTextChannel(ctx context.Context, tenantID, name string) (string, error) {
	existing, err := c.textChannelsNamed(ctx, tenantID, name)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}
	opts, err := c.wait(ctx, "channel_create")
	if err != nil {
		return "", err
	}
	ch, err := c.Session.GuildChannelCreate(tenantID, name, discordgo.ChannelTypeGuildText, opts...)
	if err := c.done("channel_create", err); err != nil {
		return "", err
	}
	c.Logger.Info("created system channel", "tenant", tenantID, "name", name, "channel", ch.ID)
	return ch.ID, nil
}

func (c *Client) DeleteChannelByName(ctx context.Context, tenantID, name, reason string) error {
	existing, err := c.textChannelsNamed(ctx, tenantID, name)
	if err != nil {
		return err
	}
	for _, ch := range existing {
		if err := c.DeleteChannel(ctx, tenantID, ch.ID, reason); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	opts, err := c.wait(ctx, "message_send")
	if err != nil {
		return "", err
	}
	msg, err := c.Session.ChannelMessageSend(channelID, content, opts...)
	if err := c.done("message_send", err); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	opts, err := c.wait(ctx, "message_edit")
	if err != nil {
		return err
	}
	_, err = c.Session.ChannelMessageEdit(channelID, messageID, content, opts...)
	return c.done("message_edit", err)
}

func (c *Client) EnsureRole(ctx context.Context, tenantID, name string) (string, error) {
	opts, err := c.wait(ctx, "roles_list")
	if err != nil {
		return "", err
	}
	roles, err := c.Session.GuildRoles(tenantID, opts...)
	if err := c.done("roles_list", err); err != nil {
		return "", err
	}
	for _, r := range roles {
		if r.Name == name {
			return r.ID, nil
		}
	}
	opts, err = c.wait(ctx, "role_create")
	if err != nil {
		return "", err
	}
	var perms int64
	role, err := c.Session.GuildRoleCreate(tenantID, &discordgo.RoleParams{Name: name, Permissions: &perms}, withReason(opts, "Create verify role")...)
	if err := c.done("role_create", err); err != nil {
		return "", err
	}
	c.Logger.Info("created verify role", "tenant", tenantID, "name", name, "role", role.ID)
	return role.ID, nil
}

func (c *Client) EnsureGatedChannel(ctx context.Context, tenantID, name, roleID string) (string, error) {
	existing, err := c.textChannelsNamed(ctx, tenantID, name)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}
	opts, err := c.wait(ctx, "channel_create")
	if err != nil {
		return "", err
	}
	ch, err := c.Session.GuildChannelCreateComplex(tenantID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		PermissionOverwrites: gatedOverwrites(tenantID, roleID, c.BotUserID()),
	}, withReason(opts, "Verify channel created")...)
	if err := c.done("channel_create", err); err != nil {
		return "", err
	}
	c.Logger.Info("created verify channel", "tenant", tenantID, "name", name, "channel", ch.ID)
	return ch.ID, nil
}

func (c *Client) SendButton(ctx context.Context, channelID, content, label, customID string) (string, error) {
	opts, err := c.wait(ctx, "message_send")
	if err != nil {
		return "", err
	}
	msg, err := c.Session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: label, Style: discordgo.SecondaryButton, CustomID: customID},
			}},
		},
	}, opts...)
	if err := c.done("message_send", err); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (c *Client) AddRole(ctx context.Context, tenantID, userID, roleID, reason string) error {
	opts, err := c.wait(ctx, "member_role_add")
	if err != nil {
		return err
	}
	err = c.Session.GuildMemberRoleAdd(tenantID, userID, roleID, withReason(opts, reason)...)
	return c.done("member_role_add", err)
}
