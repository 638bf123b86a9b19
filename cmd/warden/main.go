package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/wardenbot/warden/antinuke/discord"
	"github.com/wardenbot/warden/util/cliutil"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "anti-nuke daemon for discord servers",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database for policies and license keys (sqlite:// or postgres://)",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   20,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "discord-token",
			Usage:   "bot token for the discord API",
			EnvVars: []string{"WARDEN_DISCORD_TOKEN", "DISCORD_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "notify-webhook-url",
			Usage:   "webhook receiving license lifecycle notifications",
			EnvVars: []string{"WARDEN_NOTIFY_WEBHOOK_URL"},
		},
		&cli.Float64Flag{
			Name:    "platform-rate-limit",
			Usage:   "max discord REST requests per second (0 to rely on discord rate-limit buckets alone)",
			Value:   40,
			EnvVars: []string{"WARDEN_PLATFORM_RATE_LIMIT"},
		},
	}

	app.Before = func(cctx *cli.Context) error {
		_, err := cliutil.SetupSlog(cliutil.LogOptions{LogLevel: cctx.String("log-level")})
		return err
	}

	app.Commands = []*cli.Command{
		runCmd,
		licenseCmd,
		policyCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis for rate trackers, dedup and caches; in-process memory if not set",
			EnvVars: []string{"WARDEN_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "super-admin-id",
			Usage:   "user ID which bypasses the license gate",
			EnvVars: []string{"WARDEN_SUPER_ADMIN_ID"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the admin API",
			Value:   ":3999",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token for the admin API; the API is disabled if not set",
			EnvVars: []string{"WARDEN_ADMIN_TOKEN"},
		},
		&cli.IntFlag{
			Name:    "punish-quota-hour",
			Usage:   "max punishments per server per hour (0 for unlimited)",
			Value:   30,
			EnvVars: []string{"WARDEN_PUNISH_QUOTA_HOUR"},
		},
		&cli.DurationFlag{
			Name:    "punish-delay",
			Usage:   "pause between recording an incident and punishing its actor",
			Value:   0,
			EnvVars: []string{"WARDEN_PUNISH_DELAY"},
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "emit trace spans for database queries",
			EnvVars: []string{"WARDEN_DB_TRACING"},
		},
		&cli.DurationFlag{
			Name:    "license-sweep-interval",
			Value:   time.Minute,
			EnvVars: []string{"WARDEN_LICENSE_SWEEP_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "panel-refresh-interval",
			Value:   5 * time.Second,
			EnvVars: []string{"WARDEN_PANEL_REFRESH_INTERVAL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		logger := slog.Default()

		if cctx.String("discord-token") == "" {
			return fmt.Errorf("discord token is required")
		}

		shutdownOTEL, err := configOTEL(ctx, "warden")
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		defer shutdownOTEL()

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if cctx.Bool("db-tracing") {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return err
			}
		}

		client, err := discord.NewClient(cctx.String("discord-token"), cctx.Float64("platform-rate-limit"), logger)
		if err != nil {
			return err
		}

		srv, err := NewServer(
			db,
			client,
			Config{
				Logger:           logger,
				RedisURL:         cctx.String("redis-url"),
				SuperAdminID:     cctx.String("super-admin-id"),
				NotifyWebhookURL: cctx.String("notify-webhook-url"),
				AdminToken:       cctx.String("admin-token"),
				PunishQuota:      cctx.Int("punish-quota-hour"),
				PunishDelay:      cctx.Duration("punish-delay"),
			},
		)
		if err != nil {
			return err
		}

		consumer := discord.NewConsumer(srv.engine, logger)
		consumer.Verifier = srv.panel
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := consumer.Run(ctx, client.Session); err != nil {
				return fmt.Errorf("gateway consumer: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			return srv.RunLicenseSweep(ctx, cctx.Duration("license-sweep-interval"))
		})
		g.Go(func() error {
			return srv.panel.Run(ctx, cctx.Duration("panel-refresh-interval"))
		})
		g.Go(func() error {
			return srv.RunAdmin(ctx, cctx.String("bind"))
		})
		g.Go(func() error {
			if err := srv.RunMetrics(ctx, cctx.String("metrics-listen")); err != nil {
				return fmt.Errorf("failed to start metrics endpoint: %w", err)
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to run warden service: %w", err)
		}
		logger.Info("warden shut down")
		return nil
	},
}
