package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	cli "github.com/urfave/cli/v2"

	"github.com/wardenbot/warden/antinuke/cachestore"
	"github.com/wardenbot/warden/antinuke/dedupstore"
	"github.com/wardenbot/warden/antinuke/discord"
	"github.com/wardenbot/warden/antinuke/licensestore"
	"github.com/wardenbot/warden/antinuke/policystore"
	"github.com/wardenbot/warden/antinuke/trackstore"
	"github.com/wardenbot/warden/util/cliutil"
)

func needArgs(cctx *cli.Context, names ...string) ([]string, error) {
	if cctx.Args().Len() < len(names) {
		return nil, fmt.Errorf("expected arguments: %s", strings.Join(names, " "))
	}
	return cctx.Args().Slice()[:len(names)], nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// A server over the configured database, for one-shot operator commands. Without a discord token, tenants losing their license keep their system channels.
func openOffline(cctx *cli.Context) (*Server, error) {
	logger := slog.Default()
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, err
	}
	policies, err := policystore.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	keys, err := licensestore.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	config := Config{Logger: logger, NotifyWebhookURL: cctx.String("notify-webhook-url")}

	token := cctx.String("discord-token")
	if token == "" {
		s := assembleServer(logger, nil, policies, keys, trackstore.NewMemStore(), dedupstore.NewMemStore(), nil, config)
		s.licenses.OnUnbind = func(ctx context.Context, tenantID, reason string) {
			logger.Warn("no discord token, leaving system channels in place", "tenant", tenantID, "reason", reason)
		}
		return s, nil
	}
	client, err := discord.NewClient(token, cctx.Float64("platform-rate-limit"), logger)
	if err != nil {
		return nil, err
	}
	return assembleServer(logger, client, policies, keys, trackstore.NewMemStore(), dedupstore.NewMemStore(), cachestore.NewMemStore(100, 0), config), nil
}

var licenseCmd = &cli.Command{
	Name:  "license",
	Usage: "sub-commands for license key management",
	Subcommands: []*cli.Command{
		licenseGenerateCmd,
		licenseRevokeCmd,
		licenseRevokeUserCmd,
		licenseListCmd,
	},
}

var licenseGenerateCmd = &cli.Command{
	Name:      "generate",
	Usage:     "issue a new unbound key",
	ArgsUsage: `<7d|30d|permanent>`,
	Action: func(cctx *cli.Context) error {
		args, err := needArgs(cctx, "duration")
		if err != nil {
			return err
		}
		s, err := openOffline(cctx)
		if err != nil {
			return err
		}
		rec, err := s.licenses.Generate(cctx.Context, args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var licenseRevokeCmd = &cli.Command{
	Name:      "revoke",
	Usage:     "delete a key, unbinding it from its server",
	ArgsUsage: `<key>`,
	Action: func(cctx *cli.Context) error {
		args, err := needArgs(cctx, "key")
		if err != nil {
			return err
		}
		s, err := openOffline(cctx)
		if err != nil {
			return err
		}
		if err := s.licenses.Revoke(cctx.Context, args[0]); err != nil {
			return err
		}
		fmt.Printf("revoked %s\n", args[0])
		return nil
	},
}

var licenseRevokeUserCmd = &cli.Command{
	Name:      "revoke-user",
	Usage:     "delete every key activated by a user",
	ArgsUsage: `<user-id>`,
	Action: func(cctx *cli.Context) error {
		args, err := needArgs(cctx, "user-id")
		if err != nil {
			return err
		}
		s, err := openOffline(cctx)
		if err != nil {
			return err
		}
		n, err := s.licenses.RevokeUser(cctx.Context, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("revoked %d keys\n", n)
		return nil
	},
}

var licenseListCmd = &cli.Command{
	Name:  "list",
	Usage: "list all keys",
	Action: func(cctx *cli.Context) error {
		s, err := openOffline(cctx)
		if err != nil {
			return err
		}
		recs, err := s.licenses.List(cctx.Context)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			tenant := rec.TenantID
			if tenant == "" {
				tenant = "-"
			}
			fmt.Printf("%s\t%s\texpires=%s\tused=%t\tguild=%s\n", rec.Key, rec.Duration, rec.ExpiresAt, rec.Used, tenant)
		}
		return nil
	},
}

var policyCmd = &cli.Command{
	Name:  "policy",
	Usage: "sub-commands for per-server policy",
	Subcommands: []*cli.Command{
		policyShowCmd,
		policyToggleCmd,
		policyAllowCmd,
		policyDisallowCmd,
	},
}

var policyShowCmd = &cli.Command{
	Name:      "show",
	ArgsUsage: `<tenant-id>`,
	Action: func(cctx *cli.Context) error {
		args, err := needArgs(cctx, "tenant-id")
		if err != nil {
			return err
		}
		s, err := openOffline(cctx)
		if err != nil {
			return err
		}
		pol, err := s.policies.Get(cctx.Context, args[0])
		if err != nil {
			return err
		}
		return printJSON(pol)
	},
}

var policyToggleCmd = &cli.Command{
	Name:      "toggle",
	Usage:     "turn a policy flag on or off",
	ArgsUsage: `<tenant-id> <flag> <on|off>`,
	Action: func(cctx *cli.Context) error {
		args, err := needArgs(cctx, "tenant-id", "flag", "state")
		if err != nil {
			return err
		}
		flag, err := policystore.ParseFlag(args[1])
		if err != nil {
			return err
		}
		var on bool
		switch args[2] {
		case "on", "true":
			on = true
		case "off", "false":
			on = false
		default:
			return fmt.Errorf("state must be on or off: %s", args[2])
		}
		s, err := openOffline(cctx)
		if err != nil {
			return err
		}
		pol, err := policystore.SetToggle(cctx.Context, s.policies, args[0], flag, on)
		if err != nil {
			return err
		}
		return printJSON(pol.Toggles)
	},
}

func updateAllowListCmd(allow bool) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		args, err := needArgs(cctx, "tenant-id", "user-id")
		if err != nil {
			return err
		}
		s, err := openOffline(cctx)
		if err != nil {
			return err
		}
		pol, err := s.policies.Update(cctx.Context, args[0], func(p *policystore.TenantPolicy) error {
			if allow {
				p.Allow(args[1])
			} else {
				p.Disallow(args[1])
			}
			return nil
		})
		if err != nil {
			return err
		}
		return printJSON(pol.AllowList)
	}
}

var policyAllowCmd = &cli.Command{
	Name:      "allow",
	Usage:     "add a user to the server allow-list",
	ArgsUsage: `<tenant-id> <user-id>`,
	Action:    updateAllowListCmd(true),
}

var policyDisallowCmd = &cli.Command{
	Name:      "disallow",
	Usage:     "remove a user from the server allow-list",
	ArgsUsage: `<tenant-id> <user-id>`,
	Action:    updateAllowListCmd(false),
}
