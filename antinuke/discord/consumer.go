package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wardenbot/warden/antinuke/engine"
	"github.com/wardenbot/warden/antinuke/panel"
	"github.com/wardenbot/warden/antinuke/platform"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildWebhooks

var tracer = otel.Tracer("warden/discord")

type Processor interface {
	ProcessEvent(ctx context.Context, evt *engine.SecurityEvent) error
}

// Handles verify button presses. Implemented by panel.Publisher.
type Verifier interface {
	Verify(ctx context.Context, tenantID, userID string) (panel.VerifyOutcome, error)
}

// Converts gateway notifications into security events. Keeps its own snapshots of channel, role and guild state, so update and delete events carry the state from before the change.
type Consumer struct {
	Processor Processor
	Verifier  Verifier
	Logger    *slog.Logger

	ctx      context.Context
	channels *xsync.Map[string, platform.ChannelState]
	roles    *xsync.Map[string, platform.RoleState]
	guilds   *xsync.Map[string, platform.GuildState]
}

func NewConsumer(proc Processor, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		Processor: proc,
		Logger:    logger.With("component", "gateway"),
		ctx:       context.Background(),
		channels:  xsync.NewMap[string, platform.ChannelState](),
		roles:     xsync.NewMap[string, platform.RoleState](),
		guilds:    xsync.NewMap[string, platform.GuildState](),
	}
}

func roleKey(guildID, roleID string) string {
	return guildID + "/" + roleID
}

// Subscribes to the gateway and blocks until the context is cancelled.
func (c *Consumer) Run(ctx context.Context, sess *discordgo.Session) error {
	c.ctx = ctx
	sess.Identify.Intents = intents
	handlers := []any{
		c.onReady,
		c.onGuildCreate,
		c.onGuildUpdate,
		c.onChannelCreate,
		c.onChannelUpdate,
		c.onChannelDelete,
		c.onRoleCreate,
		c.onRoleUpdate,
		c.onRoleDelete,
		c.onWebhooksUpdate,
		c.onMessageCreate,
		c.onMemberAdd,
		c.onInteractionCreate,
	}
	for _, h := range handlers {
		remove := sess.AddHandler(h)
		defer remove()
	}
	if err := sess.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	c.Logger.Info("subscribed to discord gateway")
	<-ctx.Done()
	c.Logger.Info("closing discord gateway")
	return sess.Close()
}

func (c *Consumer) dispatch(evt *engine.SecurityEvent) {
	gatewayEventCount.WithLabelValues(string(evt.Kind)).Inc()
	ctx, span := tracer.Start(c.ctx, "ProcessEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", evt.TenantID),
		attribute.String("kind", string(evt.Kind)),
	)
	if err := c.Processor.ProcessEvent(ctx, evt); err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.Logger.Error("processing security event failed", "tenant", evt.TenantID, "kind", evt.Kind, "err", err)
	}
}

func (c *Consumer) onReady(_ *discordgo.Session, e *discordgo.Ready) {
	c.Logger.Info("gateway ready", "user", e.User.ID, "guilds", len(e.Guilds))
}

// Guild availability seeds the snapshots.
func (c *Consumer) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if e.Guild == nil {
		return
	}
	c.guilds.Store(e.ID, *guildState(e.Guild))
	for _, ch := range e.Channels {
		c.channels.Store(ch.ID, *channelState(ch))
	}
	for _, r := range e.Roles {
		c.roles.Store(roleKey(e.ID, r.ID), *roleState(r))
	}
}

func (c *Consumer) onGuildUpdate(_ *discordgo.Session, e *discordgo.GuildUpdate) {
	if e.Guild == nil {
		return
	}
	after := guildState(e.Guild)
	before, ok := c.guilds.LoadAndStore(e.ID, *after)
	if !ok {
		// nothing to compare against
		return
	}
	c.dispatch(&engine.SecurityEvent{
		Kind:        engine.KindGuildPropertyChange,
		TenantID:    e.ID,
		GuildBefore: &before,
		GuildAfter:  after,
	})
}

func (c *Consumer) onChannelCreate(_ *discordgo.Session, e *discordgo.ChannelCreate) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	after := channelState(e.Channel)
	c.channels.Store(e.ID, *after)
	c.dispatch(&engine.SecurityEvent{
		Kind:         engine.KindChannelCreate,
		TenantID:     e.GuildID,
		ChannelID:    e.ID,
		ChannelAfter: after,
	})
}

func (c *Consumer) onChannelUpdate(_ *discordgo.Session, e *discordgo.ChannelUpdate) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	after := channelState(e.Channel)
	before, ok := c.channels.LoadAndStore(e.ID, *after)
	if !ok {
		return
	}
	c.dispatch(&engine.SecurityEvent{
		Kind:          engine.KindChannelUpdate,
		TenantID:      e.GuildID,
		ChannelID:     e.ID,
		ChannelBefore: &before,
		ChannelAfter:  after,
	})
}

func (c *Consumer) onChannelDelete(_ *discordgo.Session, e *discordgo.ChannelDelete) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	c.channels.Delete(e.ID)
	c.dispatch(&engine.SecurityEvent{
		Kind:          engine.KindChannelDelete,
		TenantID:      e.GuildID,
		ChannelID:     e.ID,
		ChannelBefore: channelState(e.Channel),
	})
}

func (c *Consumer) onRoleCreate(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
	if e.GuildRole == nil || e.Role == nil {
		return
	}
	after := roleState(e.Role)
	c.roles.Store(roleKey(e.GuildID, e.Role.ID), *after)
	c.dispatch(&engine.SecurityEvent{
		Kind:      engine.KindRoleCreate,
		TenantID:  e.GuildID,
		RoleAfter: after,
	})
}

func (c *Consumer) onRoleUpdate(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
	if e.GuildRole == nil || e.Role == nil {
		return
	}
	after := roleState(e.Role)
	before, ok := c.roles.LoadAndStore(roleKey(e.GuildID, e.Role.ID), *after)
	if !ok {
		return
	}
	c.dispatch(&engine.SecurityEvent{
		Kind:       engine.KindRoleUpdate,
		TenantID:   e.GuildID,
		RoleBefore: &before,
		RoleAfter:  after,
	})
}

func (c *Consumer) onRoleDelete(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
	evt := &engine.SecurityEvent{
		Kind:     engine.KindRoleDelete,
		TenantID: e.GuildID,
	}
	if before, ok := c.roles.LoadAndDelete(roleKey(e.GuildID, e.RoleID)); ok {
		evt.RoleBefore = &before
	} else {
		evt.RoleBefore = &platform.RoleState{ID: e.RoleID}
	}
	c.dispatch(evt)
}

// The gateway reports webhook changes per channel, without the webhook involved.
func (c *Consumer) onWebhooksUpdate(_ *discordgo.Session, e *discordgo.WebhooksUpdate) {
	if e.GuildID == "" {
		return
	}
	c.dispatch(&engine.SecurityEvent{
		Kind:      engine.KindWebhookCreate,
		TenantID:  e.GuildID,
		ChannelID: e.ChannelID,
	})
}

func (c *Consumer) onMessageCreate(_ *discordgo.Session, e *discordgo.MessageCreate) {
	if e.Message == nil || e.GuildID == "" || e.Author == nil || e.WebhookID != "" {
		return
	}
	c.dispatch(&engine.SecurityEvent{
		Kind:      engine.KindMessage,
		TenantID:  e.GuildID,
		ChannelID: e.ChannelID,
		ActorID:   e.Author.ID,
		ActorBot:  e.Author.Bot,
	})
}

func (c *Consumer) onMemberAdd(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
	if e.Member == nil || e.User == nil {
		return
	}
	c.dispatch(&engine.SecurityEvent{
		Kind:     engine.KindMemberJoin,
		TenantID: e.GuildID,
		ActorID:  e.User.ID,
		ActorBot: e.User.Bot,
	})
}

func (c *Consumer) onInteractionCreate(s *discordgo.Session, e *discordgo.InteractionCreate) {
	if e.Interaction == nil {
		return
	}
	reply, ok := c.verifyReply(e.Interaction)
	if !ok {
		return
	}
	err := s.InteractionRespond(e.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: reply,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		c.Logger.Warn("responding to interaction failed", "tenant", e.GuildID, "err", err)
	}
}

// Runs verification for a verify button press and returns the reply. Reports false for any other interaction.
func (c *Consumer) verifyReply(i *discordgo.Interaction) (string, bool) {
	if c.Verifier == nil || i.Type != discordgo.InteractionMessageComponent || i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return "", false
	}
	if i.MessageComponentData().CustomID != panel.VerifyButtonID {
		return "", false
	}
	outcome, err := c.Verifier.Verify(c.ctx, i.GuildID, i.Member.User.ID)
	if err != nil {
		c.Logger.Warn("verifying member failed", "tenant", i.GuildID, "member", i.Member.User.ID, "err", err)
	}
	return panel.VerifyReply(outcome, err), true
}
