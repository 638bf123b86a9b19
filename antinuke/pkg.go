package antinuke

import (
	"github.com/wardenbot/warden/antinuke/engine"
	"github.com/wardenbot/warden/antinuke/policystore"
)

type Engine = engine.Engine
type SecurityEvent = engine.SecurityEvent
type EventKind = engine.EventKind
type Actor = engine.Actor
type Licenser = engine.Licenser
type JoinBurstHook = engine.JoinBurstHook

type TenantPolicy = policystore.TenantPolicy
type Flag = policystore.Flag

var (
	KindChannelCreate       = engine.KindChannelCreate
	KindChannelDelete       = engine.KindChannelDelete
	KindChannelUpdate       = engine.KindChannelUpdate
	KindRoleCreate          = engine.KindRoleCreate
	KindRoleDelete          = engine.KindRoleDelete
	KindRoleUpdate          = engine.KindRoleUpdate
	KindWebhookCreate       = engine.KindWebhookCreate
	KindGuildPropertyChange = engine.KindGuildPropertyChange
	KindMessage             = engine.KindMessage
	KindMemberJoin          = engine.KindMemberJoin

	ErrResolutionFailure  = engine.ErrResolutionFailure
	ErrGateDenied         = engine.ErrGateDenied
	ErrHierarchyViolation = engine.ErrHierarchyViolation
	ErrPermissionMissing  = engine.ErrPermissionMissing
	ErrPlatformAPI        = engine.ErrPlatformAPI
)
