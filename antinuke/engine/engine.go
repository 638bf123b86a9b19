package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenbot/warden/antinuke/dedupstore"
	"github.com/wardenbot/warden/antinuke/incident"
	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
	"github.com/wardenbot/warden/antinuke/trackstore"
)

// minimum interval between identical incident records for one (tenant, actor, action)
const DedupCooldown = 60 * time.Second

// Answers whether a tenant currently holds a valid license.
type Licenser interface {
	IsLicensed(ctx context.Context, tenantID string) bool
}

// Called when a tenant's join rate crosses its threshold. Detection only: the engine takes no action of its own.
type JoinBurstHook func(ctx context.Context, tenantID, memberID string, count int)

// Runtime for attributing platform mutations to actors, gating them against tenant policy, and remediating.
//
// Construct with a struct literal; Platform, Policies, Licenses, Trackers, Dedup and Sink must all be set. Methods are safe for concurrent use.
type Engine struct {
	Logger   *slog.Logger
	Platform platform.Platform
	Policies policystore.Store
	Licenses Licenser
	Trackers trackstore.Store
	Dedup    dedupstore.Store
	Sink     incident.Sink
	// bypasses the license gate everywhere
	SuperAdminID string
	// maximum punishments per tenant per rolling hour; zero disables the limit
	PunishQuota int
	// optional pause between the first-phase incident record and the punishment
	PunishDelay time.Duration
	OnJoinBurst JoinBurstHook
	// wall clock; defaults to time.Now
	Now func() time.Time

	initOnce sync.Once
	guard    *punishGuard
	breaker  *punishBreaker
}

func (eng *Engine) init() {
	eng.initOnce.Do(func() {
		eng.guard = newPunishGuard()
		eng.breaker = newPunishBreaker(eng.PunishQuota)
		if eng.Logger == nil {
			eng.Logger = slog.Default()
		}
	})
}

func (eng *Engine) now() time.Time {
	if eng.Now != nil {
		return eng.Now()
	}
	return time.Now()
}

// Per-event processing state, summarized by a canonical log line once the pipeline finishes.
type eventContext struct {
	Event  *SecurityEvent
	Policy *policystore.TenantPolicy
	Actor  Actor
	Logger *slog.Logger

	statuses []incident.Status
	punished string
	denied   string
}

// Logs a single line summarizing the event processing outcome.
func (c *eventContext) CanonicalLogLine() {
	if len(c.statuses) == 0 && c.punished == "" {
		c.Logger.Debug("incident processed", "denied", c.denied)
		return
	}
	c.Logger.Info("incident processed",
		"statuses", c.statuses,
		"punishment", c.punished,
		"denied", c.denied,
	)
}

// Runs one security event through the pipeline. Errors are returned for the caller to log; they never indicate a condition that should stop event processing.
func (eng *Engine) ProcessEvent(ctx context.Context, evt *SecurityEvent) (err error) {
	eng.init()
	if evt == nil {
		return fmt.Errorf("nil security event")
	}
	// similar to an HTTP server, we want to recover any panics from handler execution
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("security event execution exception", "err", r, "tenant", evt.TenantID, "kind", evt.Kind)
			err = fmt.Errorf("panic processing %s event: %v", evt.Kind, r)
		}
	}()

	start := time.Now()
	defer func() {
		eventProcessDuration.WithLabelValues(string(evt.Kind)).Observe(time.Since(start).Seconds())
	}()
	eventProcessCount.WithLabelValues(string(evt.Kind)).Inc()

	if evt.TenantID == "" {
		return fmt.Errorf("security event missing tenant")
	}

	pol, err := eng.Policies.Get(ctx, evt.TenantID)
	if err != nil {
		eventErrorCount.WithLabelValues(string(evt.Kind)).Inc()
		return fmt.Errorf("loading tenant policy: %w", err)
	}
	c := &eventContext{
		Event:  evt,
		Policy: pol,
		Logger: eng.Logger.With("tenant", evt.TenantID, "kind", evt.Kind),
	}

	switch evt.Kind {
	case KindMessage:
		err = eng.processMessage(ctx, c)
	case KindMemberJoin:
		err = eng.processJoin(ctx, c)
	default:
		h, ok := mutationHandlers[evt.Kind]
		if !ok {
			return fmt.Errorf("unhandled security event kind: %s", evt.Kind)
		}
		err = eng.processMutation(ctx, c, h)
	}
	c.CanonicalLogLine()

	var gerr *GateError
	if errors.As(err, &gerr) {
		gateDeniedCount.WithLabelValues(string(evt.Kind), gerr.Reason).Inc()
		return nil
	}
	if err != nil && !errors.Is(err, ErrResolutionFailure) {
		eventErrorCount.WithLabelValues(string(evt.Kind)).Inc()
	}
	return err
}

// Emits an incident record unless an identical (tenant, actor, action) record went out within the cooldown.
func (eng *Engine) logIncident(ctx context.Context, c *eventContext, actorID, action string, status incident.Status) {
	now := eng.now()
	ok, err := eng.Dedup.Allow(ctx, dedupstore.IncidentKey(c.Event.TenantID, actorID, action), now, DedupCooldown)
	if err != nil {
		// emit rather than lose an alert when the cache is unavailable
		c.Logger.Warn("incident dedup check failed", "err", err)
		ok = true
	}
	if !ok {
		incidentSuppressedCount.Inc()
		c.Logger.Debug("suppressed duplicate incident", "actor", actorID, "action", action)
		return
	}
	c.statuses = append(c.statuses, status)
	incidentCount.WithLabelValues(string(status)).Inc()

	rec := incident.Record{
		ActorID: actorID,
		Action:  action,
		Status:  status,
		At:      now,
	}
	chans := incident.Channels{Shame: c.Policy.ShameChannel, Logs: c.Policy.LogsChannel}
	if err := eng.Sink.Emit(ctx, c.Event.TenantID, chans, rec); err != nil {
		c.Logger.Warn("failed to emit incident", "action", action, "status", status, "err", err)
	}
}
