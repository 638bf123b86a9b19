package incident

import (
	"fmt"
	"strings"
	"time"
)

// Incident status vocabulary. Downstream tooling parses these, so values must not change.
type Status string

const (
	StatusBlocked              Status = "BLOCKED/LOGGED"
	StatusKicked               Status = "AUTO-KICKED"
	StatusTimedOut             Status = "TIMED OUT"
	StatusReverted             Status = "REVERTED"
	StatusDeleted              Status = "DELETED"
	StatusHierarchyBlock       Status = "HIERARCHY BLOCK"
	StatusMissingPerm          Status = "MISSING PERM"
	StatusForbidden            Status = "FORBIDDEN"
	StatusFailed               Status = "FAILED"
	StatusUserNotFound         Status = "USER NOT FOUND"
	StatusLicenseSkipped       Status = "LICENSE INACTIVE - SKIPPED"
	StatusLicenseSkippedPunish Status = "LICENSE INACTIVE - SKIPPED PUNISH"
	StatusDetected             Status = "DETECTED"
	StatusSpamDeleted          Status = "SPAM_DELETED"
)

const rule = "──────────────────────────────────────"

const TimeLayout = "2006-01-02 • 15:04:05 UTC"

// One security alert, as emitted to a tenant's log channels.
type Record struct {
	ActorID string
	Action  string
	Status  Status
	At      time.Time
}

// Renders the record as a shell-style code block.
func (r Record) Format() string {
	lines := []string{
		"[SYSTEM: SECURITY ALERT]",
		rule,
		fmt.Sprintf("User: <@%s> (ID: %s)", r.ActorID, r.ActorID),
		fmt.Sprintf("Action: %s", r.Action),
		fmt.Sprintf("Status: %s", r.Status),
		fmt.Sprintf("Time: %s", r.At.UTC().Format(TimeLayout)),
		rule,
	}
	return ShellBlock(lines...)
}

func ShellBlock(lines ...string) string {
	return "```shell\n" + strings.Join(lines, "\n") + "\n```"
}
