package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/wardenbot/warden/antinuke/cachestore"
	"github.com/wardenbot/warden/antinuke/dedupstore"
	"github.com/wardenbot/warden/antinuke/engine"
	"github.com/wardenbot/warden/antinuke/incident"
	"github.com/wardenbot/warden/antinuke/licensestore"
	"github.com/wardenbot/warden/antinuke/notify"
	"github.com/wardenbot/warden/antinuke/panel"
	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
	"github.com/wardenbot/warden/antinuke/trackstore"
)

type Server struct {
	logger     *slog.Logger
	platform   platform.Platform
	engine     *engine.Engine
	policies   policystore.Store
	licenses   *licensestore.Registry
	sink       *incident.ChannelSink
	panel      *panel.Publisher
	adminToken string
	echo       *echo.Echo
}

type Config struct {
	Logger           *slog.Logger
	RedisURL         string
	SuperAdminID     string
	NotifyWebhookURL string
	AdminToken       string
	PunishQuota      int
	PunishDelay      time.Duration
}

func newNotifier(webhookURL string, logger *slog.Logger) notify.Notifier {
	if webhookURL == "" {
		return &notify.LogNotifier{Logger: logger}
	}
	return notify.NewWebhookNotifier(webhookURL, logger)
}

func NewServer(db *gorm.DB, plat platform.Platform, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	policies, err := policystore.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("initializing policy store: %w", err)
	}
	keys, err := licensestore.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("initializing license store: %w", err)
	}

	var trackers trackstore.Store
	var dedup dedupstore.Store
	var cache cachestore.Store
	if config.RedisURL != "" {
		trk, err := trackstore.NewRedisStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis trackstore: %w", err)
		}
		trackers = trk

		ddp, err := dedupstore.NewRedisStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis dedupstore: %w", err)
		}
		dedup = ddp

		csh, err := cachestore.NewRedisStore(config.RedisURL, 30*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %w", err)
		}
		cache = csh
	} else {
		trackers = trackstore.NewMemStore()
		dedup = dedupstore.NewMemStore()
		cache = cachestore.NewMemStore(5_000, 30*time.Minute)
	}

	return assembleServer(logger, plat, policies, keys, trackers, dedup, cache, config), nil
}

// Wires the components over already constructed stores.
func assembleServer(logger *slog.Logger, plat platform.Platform, policies policystore.Store, keys licensestore.Store, trackers trackstore.Store, dedup dedupstore.Store, cache cachestore.Store, config Config) *Server {
	sink := incident.NewChannelSink(plat, cache, logger)
	registry := licensestore.NewRegistry(keys, newNotifier(config.NotifyWebhookURL, logger), logger)

	s := &Server{
		logger:     logger,
		platform:   plat,
		policies:   policies,
		licenses:   registry,
		sink:       sink,
		panel:      panel.NewPublisher(policies, registry, sink, plat, logger),
		adminToken: config.AdminToken,
	}
	s.panel.Cache = cache
	s.panel.SuperAdminID = config.SuperAdminID
	registry.OnUnbind = s.teardownTenant
	s.engine = &engine.Engine{
		Logger:       logger,
		Platform:     plat,
		Policies:     policies,
		Licenses:     registry,
		Trackers:     trackers,
		Dedup:        dedup,
		Sink:         sink,
		SuperAdminID: config.SuperAdminID,
		PunishQuota:  config.PunishQuota,
		PunishDelay:  config.PunishDelay,
		OnJoinBurst:  s.reportJoinBurst,
	}
	return s
}

// Removes the tenant's system channels once it loses its license.
func (s *Server) teardownTenant(ctx context.Context, tenantID, reason string) {
	pol, err := s.policies.Get(ctx, tenantID)
	if err != nil {
		s.logger.Error("loading policy for tenant teardown", "tenant", tenantID, "err", err)
		return
	}
	for _, name := range []string{pol.PanelChannel, pol.LogsChannel, pol.ShameChannel} {
		if err := s.platform.DeleteChannelByName(ctx, tenantID, name, reason); err != nil {
			s.logger.Warn("failed to delete system channel", "tenant", tenantID, "channel", name, "err", err)
		}
		s.sink.Forget(ctx, tenantID, name)
	}
	_, err = s.policies.Update(ctx, tenantID, func(p *policystore.TenantPolicy) error {
		p.PanelChannelID = ""
		p.PanelMessageID = ""
		return nil
	})
	if err != nil {
		s.logger.Error("clearing panel location", "tenant", tenantID, "err", err)
	}
	s.logger.Info("tore down tenant system channels", "tenant", tenantID, "reason", reason)
}

// Join bursts are only reported, in the tenant's ops log, once per crossing of the threshold.
func (s *Server) reportJoinBurst(ctx context.Context, tenantID, memberID string, count int) {
	pol, err := s.policies.Get(ctx, tenantID)
	if err != nil {
		s.logger.Error("loading policy for join burst report", "tenant", tenantID, "err", err)
		return
	}
	if count != int(pol.JoinThreshold) {
		return
	}
	msg := incident.ShellBlock(
		"[SYSTEM: JOIN BURST]",
		fmt.Sprintf("Joins: %d within %ds", count, pol.JoinWindowSeconds),
		fmt.Sprintf("Latest: <@%s> (ID: %s)", memberID, memberID),
		"Time: "+time.Now().UTC().Format(incident.TimeLayout),
	)
	if _, _, err := s.sink.Send(ctx, tenantID, pol.LogsChannel, msg); err != nil {
		s.logger.Warn("failed to report join burst", "tenant", tenantID, "err", err)
	}
}
