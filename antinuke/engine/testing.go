package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenbot/warden/antinuke/cachestore"
	"github.com/wardenbot/warden/antinuke/dedupstore"
	"github.com/wardenbot/warden/antinuke/incident"
	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
	"github.com/wardenbot/warden/antinuke/trackstore"
)

// Fixed license answers, for tests.
type StaticLicenser struct {
	mu       sync.Mutex
	licensed map[string]bool
}

func NewStaticLicenser(tenants ...string) *StaticLicenser {
	l := &StaticLicenser{licensed: make(map[string]bool)}
	for _, t := range tenants {
		l.licensed[t] = true
	}
	return l
}

func (l *StaticLicenser) Set(tenantID string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.licensed[tenantID] = ok
}

func (l *StaticLicenser) IsLicensed(ctx context.Context, tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.licensed[tenantID]
}

// Manually advanced clock.
type TestClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type TestFixture struct {
	Engine   *Engine
	Platform *platform.MockPlatform
	Policies *policystore.MemStore
	Licenses *StaticLicenser
	Clock    *TestClock
}

const (
	TestTenant   = "guild1"
	TestBot      = "bot"
	TestAttacker = "attacker"
)

// An engine over in-memory stores and a mock platform. The tenant is licensed with default policy; the bot ranks above the attacker and holds every permission.
func EngineTestFixture() *TestFixture {
	p := platform.NewMockPlatform(TestBot)
	p.InsertMember(TestTenant, platform.Member{UserID: TestBot, Bot: true, TopRolePosition: 10})
	p.InsertMember(TestTenant, platform.Member{UserID: TestAttacker, TopRolePosition: 1})
	p.SetBotPermissions(TestTenant, platform.PermAdministrator)

	clock := &TestClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	policies := policystore.NewMemStore()
	licenses := NewStaticLicenser(TestTenant)
	eng := &Engine{
		Logger:   slog.Default(),
		Platform: &p,
		Policies: policies,
		Licenses: licenses,
		Trackers: trackstore.NewMemStore(),
		Dedup:    dedupstore.NewMemStore(),
		Sink:     incident.NewChannelSink(&p, cachestore.NewMemStore(100, time.Hour), nil),
		Now:      clock.Now,
	}
	return &TestFixture{
		Engine:   eng,
		Platform: &p,
		Policies: policies,
		Licenses: licenses,
		Clock:    clock,
	}
}

// Records the attacker as the most recent actor for the audit category.
func (f *TestFixture) Attribute(action platform.AuditAction, actorID string, bot bool) {
	f.Platform.InsertAudit(TestTenant, action, platform.AuditEntry{ActorID: actorID, ActorBot: bot, CreatedAt: f.Clock.Now()})
}

// Incident records posted to the tenant logs channel.
func (f *TestFixture) Incidents() []string {
	return f.Platform.ChannelMessages(TestTenant, "security-logs")
}
