package engine

import (
	"errors"
)

var (
	// no actor could be attributed to the event
	ErrResolutionFailure = errors.New("actor resolution failed")
	// the event was filtered by toggle, license, allow-list or bot status
	ErrGateDenied = errors.New("denied by policy gate")
	// the actor ranks at or above the bot
	ErrHierarchyViolation = errors.New("actor outranks bot")
	// the bot lacks a permission needed for the remediation
	ErrPermissionMissing = errors.New("bot permission missing")
	// a platform call failed; never retried in-line
	ErrPlatformAPI = errors.New("platform API failure")
)
