// Anti-nuke engine for multi-tenant chat communities.
//
// This package (`github.com/wardenbot/warden/antinuke`) watches structural mutations of a community (channels, roles, webhooks, server properties) and message or join bursts, attributes each one to the responsible member via the audit log, and reverts the change and punishes the member when tenant policy and license allow it. Every decision is recorded in two log channels of the tenant, with repeated identical records suppressed for a minute.
//
// The pipeline lives in `antinuke/engine`; state is kept in the `*store` packages, which each have in-memory and persistent implementations. See `cmd/warden` for the daemon built on this package.
package antinuke
