package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
)

// "Action | Status" pairs parsed from rendered incident records
func parseIncidents(msgs []string) []string {
	out := []string{}
	for _, m := range msgs {
		var action, status string
		for _, line := range strings.Split(m, "\n") {
			if strings.HasPrefix(line, "Action: ") {
				action = strings.TrimPrefix(line, "Action: ")
			}
			if strings.HasPrefix(line, "Status: ") {
				status = strings.TrimPrefix(line, "Status: ")
			}
		}
		out = append(out, action+" | "+status)
	}
	return out
}

func channelCreate(id string) *SecurityEvent {
	return &SecurityEvent{Kind: KindChannelCreate, TenantID: TestTenant, ChannelID: id, ChannelAfter: &platform.ChannelState{ID: id, Name: "raid"}}
}

func channelRename(id, from, to string) *SecurityEvent {
	return &SecurityEvent{
		Kind:          KindChannelUpdate,
		TenantID:      TestTenant,
		ChannelID:     id,
		ChannelBefore: &platform.ChannelState{ID: id, Name: from},
		ChannelAfter:  &platform.ChannelState{ID: id, Name: to},
	}
}

func message(author, channel string) *SecurityEvent {
	return &SecurityEvent{Kind: KindMessage, TenantID: TestTenant, ActorID: author, ChannelID: channel}
}

func TestChannelCreateRemediated(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Attribute(platform.AuditChannelCreate, TestAttacker, false)

	assert.NoError(f.Engine.ProcessEvent(ctx, channelCreate("c1")))

	calls := f.Platform.CallsTo("DeleteChannel", "Kick")
	require.Len(t, calls, 2)
	assert.Equal("DeleteChannel", calls[0].Method)
	assert.Equal("c1", calls[0].Target)
	assert.Equal("Kick", calls[1].Method)
	assert.Equal(TestAttacker, calls[1].Target)
	assert.Equal("Auto-Kick: Unauthorized Channel Creation", calls[1].Reason)

	// first-phase record before the punishment record, in both channels
	want := []string{
		"Unauthorized Channel Creation | DELETED",
		"Auto-Kicked for Unauthorized Channel Creation | AUTO-KICKED",
	}
	assert.Equal(want, parseIncidents(f.Incidents()))
	assert.Equal(want, parseIncidents(f.Platform.ChannelMessages(TestTenant, "shame")))
}

func TestUnlicensedTenantSkipped(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Licenses.Set(TestTenant, false)
	f.Attribute(platform.AuditChannelCreate, TestAttacker, false)

	assert.NoError(f.Engine.ProcessEvent(ctx, channelCreate("c1")))

	assert.Empty(f.Platform.CallsTo("DeleteChannel", "Kick", "Timeout"))
	assert.Equal([]string{"Unauthorized Channel Creation | LICENSE INACTIVE - SKIPPED"}, parseIncidents(f.Incidents()))
}

func TestSuperAdminBypassesLicense(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Licenses.Set(TestTenant, false)
	f.Engine.SuperAdminID = TestAttacker
	f.Attribute(platform.AuditChannelCreate, TestAttacker, false)

	assert.NoError(f.Engine.ProcessEvent(ctx, channelCreate("c1")))
	assert.Len(f.Platform.CallsTo("DeleteChannel"), 1)
}

func TestToggleOffSkipsAttribution(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	_, err := policystore.SetToggle(ctx, f.Policies, TestTenant, policystore.AntiChannelCreate, false)
	require.NoError(t, err)
	f.Attribute(platform.AuditChannelCreate, TestAttacker, false)

	assert.NoError(f.Engine.ProcessEvent(ctx, channelCreate("c1")))
	assert.Empty(f.Platform.CallsTo())
	assert.Empty(f.Incidents())
}

func TestResolutionFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()

	err := f.Engine.ProcessEvent(ctx, channelCreate("c1"))
	assert.ErrorIs(err, ErrResolutionFailure)
	assert.Empty(f.Platform.CallsTo("DeleteChannel", "Kick"))

	f.Platform.Fail("QueryAuditLog", fmt.Errorf("gateway timeout"))
	err = f.Engine.ProcessEvent(ctx, channelCreate("c2"))
	assert.ErrorIs(err, ErrResolutionFailure)
	assert.Empty(f.Incidents())
}

// one event of every mutation kind, attributed to actorID
func allMutations(f *TestFixture, actorID string, bot bool) []*SecurityEvent {
	for _, a := range []platform.AuditAction{
		platform.AuditChannelCreate, platform.AuditChannelDelete, platform.AuditChannelUpdate,
		platform.AuditRoleCreate, platform.AuditRoleDelete, platform.AuditRoleUpdate,
		platform.AuditWebhookCreate, platform.AuditGuildUpdate,
	} {
		f.Attribute(a, actorID, bot)
	}
	evts := []*SecurityEvent{
		channelCreate("c1"),
		{Kind: KindChannelDelete, TenantID: TestTenant, ChannelBefore: &platform.ChannelState{ID: "c2", Name: "general"}},
		{Kind: KindRoleCreate, TenantID: TestTenant, RoleAfter: &platform.RoleState{ID: "r1", Name: "new role"}},
		{Kind: KindRoleDelete, TenantID: TestTenant, RoleBefore: &platform.RoleState{ID: "r2", Name: "mods"}},
		{Kind: KindRoleUpdate, TenantID: TestTenant, RoleBefore: &platform.RoleState{ID: "r3", Name: "a", Permissions: 8}, RoleAfter: &platform.RoleState{ID: "r3", Name: "a", Permissions: 9}},
		{Kind: KindWebhookCreate, TenantID: TestTenant, ChannelID: "c3", WebhookID: "w1"},
		{Kind: KindGuildPropertyChange, TenantID: TestTenant, GuildBefore: &platform.GuildState{VanityCode: "a"}, GuildAfter: &platform.GuildState{VanityCode: "b"}},
	}
	for i := 0; i < 5; i++ {
		evts = append(evts, channelRename("c4", fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i+1)))
	}
	for i := 0; i < 10; i++ {
		evts = append(evts, message(actorID, "c5"))
	}
	for _, e := range evts {
		e.ActorBot = bot
	}
	return evts
}

var mutatingMethods = []string{
	"Kick", "Timeout", "CreateChannel", "EditChannel", "DeleteChannel", "CreateRole", "EditRole", "DeleteRole",
	"DeleteWebhook", "PurgeMessages",
}

func TestAllowListedActorNeverRemediated(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	_, err := f.Policies.Update(ctx, TestTenant, func(p *policystore.TenantPolicy) error {
		p.Allow(TestAttacker)
		return nil
	})
	require.NoError(t, err)

	for _, evt := range allMutations(f, TestAttacker, false) {
		assert.NoError(f.Engine.ProcessEvent(ctx, evt))
	}
	assert.Empty(f.Platform.CallsTo(mutatingMethods...))
	assert.Empty(f.Incidents())
}

func TestBotActorIgnored(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Platform.InsertMember(TestTenant, platform.Member{UserID: "otherbot", Bot: true, TopRolePosition: 1})

	for _, evt := range allMutations(f, "otherbot", true) {
		assert.NoError(f.Engine.ProcessEvent(ctx, evt))
	}
	assert.Empty(f.Platform.CallsTo(mutatingMethods...))
	assert.Empty(f.Incidents())
}

func TestRenameBurst(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Attribute(platform.AuditChannelUpdate, TestAttacker, false)

	assert.NoError(f.Engine.ProcessEvent(ctx, channelRename("c1", "general", "x1")))
	f.Clock.Advance(10 * time.Second)
	assert.NoError(f.Engine.ProcessEvent(ctx, channelRename("c1", "x1", "x2")))
	assert.Empty(f.Platform.CallsTo("EditChannel", "Kick"))
	assert.Empty(f.Incidents())

	f.Clock.Advance(10 * time.Second)
	assert.NoError(f.Engine.ProcessEvent(ctx, channelRename("c1", "x2", "x3")))

	calls := f.Platform.CallsTo("EditChannel", "Kick")
	require.Len(t, calls, 2)
	assert.Equal("c1=x2", calls[0].Target)
	assert.Equal("Kick", calls[1].Method)
	assert.Equal([]string{
		"Mass Channel Rename Detected | REVERTED",
		"Auto-Kicked for Mass Channel Rename Detected | AUTO-KICKED",
	}, parseIncidents(f.Incidents()))
}

func TestSpreadRenamesNeverTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Attribute(platform.AuditChannelUpdate, TestAttacker, false)

	for i := 0; i < 6; i++ {
		assert.NoError(f.Engine.ProcessEvent(ctx, channelRename("c1", fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i+1))))
		f.Clock.Advance(16 * time.Second)
	}
	assert.Empty(f.Platform.CallsTo("EditChannel", "Kick"))
}

func TestIncidentDedup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Attribute(platform.AuditRoleDelete, TestAttacker, false)
	// keep the kick failing so the attacker stays around
	f.Platform.Fail("Kick", fmt.Errorf("upstream 502"))

	evt := &SecurityEvent{Kind: KindRoleDelete, TenantID: TestTenant, RoleBefore: &platform.RoleState{ID: "r1", Name: "mods"}}
	for i := 0; i < 5; i++ {
		f.Engine.ProcessEvent(ctx, evt)
		f.Clock.Advance(10 * time.Second)
	}
	assert.Len(f.Platform.CallsTo("Kick"), 5)
	assert.Equal([]string{
		"Unauthorized Role Deletion | DETECTED",
		"Kick failed for Unauthorized Role Deletion | FAILED",
	}, parseIncidents(f.Incidents()))

	// the cooldown has elapsed since the first record
	f.Clock.Advance(15 * time.Second)
	f.Engine.ProcessEvent(ctx, evt)
	assert.Len(f.Incidents(), 4)
}

func TestHierarchyBlock(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Platform.InsertMember(TestTenant, platform.Member{UserID: "peer", TopRolePosition: 10})
	f.Platform.InsertMember(TestTenant, platform.Member{UserID: "owner", TopRolePosition: 0, Owner: true})

	for _, actor := range []string{"peer", "owner"} {
		f.Attribute(platform.AuditRoleCreate, actor, false)
		err := f.Engine.ProcessEvent(ctx, &SecurityEvent{Kind: KindRoleCreate, TenantID: TestTenant, RoleAfter: &platform.RoleState{ID: "r-" + actor}})
		assert.ErrorIs(err, ErrHierarchyViolation)
	}
	assert.Empty(f.Platform.CallsTo("Kick", "Timeout"))
	assert.Len(f.Platform.CallsTo("DeleteRole"), 2)
	assert.Contains(parseIncidents(f.Incidents()), "Cannot punish higher-role member for Unauthorized Role Creation | HIERARCHY BLOCK")
}

func TestMissingPermission(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Platform.SetBotPermissions(TestTenant, platform.PermManageChannels|platform.PermModerateMembers)
	f.Attribute(platform.AuditChannelCreate, TestAttacker, false)

	err := f.Engine.ProcessEvent(ctx, channelCreate("c1"))
	assert.ErrorIs(err, ErrPermissionMissing)
	assert.Empty(f.Platform.CallsTo("Kick"))
	assert.Contains(parseIncidents(f.Incidents()), "Missing kick permission for Unauthorized Channel Creation | MISSING PERM")
}

func TestKickForbidden(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Platform.Fail("Kick", fmt.Errorf("discord 403: %w", platform.ErrForbidden))
	f.Attribute(platform.AuditChannelCreate, TestAttacker, false)

	err := f.Engine.ProcessEvent(ctx, channelCreate("c1"))
	assert.ErrorIs(err, ErrPlatformAPI)
	assert.Contains(parseIncidents(f.Incidents()), "Kick forbidden for Unauthorized Channel Creation | FORBIDDEN")
}

func TestUserNotFound(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Attribute(platform.AuditChannelCreate, "ghost", false)

	err := f.Engine.ProcessEvent(ctx, channelCreate("c1"))
	assert.ErrorIs(err, ErrResolutionFailure)
	assert.Empty(f.Platform.CallsTo("Kick", "Timeout"))
	assert.Equal([]string{
		"Unauthorized Channel Creation | DELETED",
		"User not found during Unauthorized Channel Creation | USER NOT FOUND",
	}, parseIncidents(f.Incidents()))
}

func TestTimeoutMode(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	_, err := policystore.SetToggle(ctx, f.Policies, TestTenant, policystore.AutoTimeout, true)
	require.NoError(t, err)
	f.Attribute(platform.AuditWebhookCreate, TestAttacker, false)

	assert.NoError(f.Engine.ProcessEvent(ctx, &SecurityEvent{Kind: KindWebhookCreate, TenantID: TestTenant, ChannelID: "c1", WebhookID: "w1"}))

	assert.Empty(f.Platform.CallsTo("Kick"))
	calls := f.Platform.CallsTo("Timeout")
	require.Len(t, calls, 1)
	assert.Equal(f.Clock.Now().Add(12*time.Hour), calls[0].Until)
	assert.Equal([]string{
		"Unauthorized Webhook Creation | DELETED",
		"Timed Out for Unauthorized Webhook Creation | TIMED OUT",
	}, parseIncidents(f.Incidents()))
}

func TestNoPunishmentConfigured(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	policystore.SetToggle(ctx, f.Policies, TestTenant, policystore.AutoKick, false)
	f.Attribute(platform.AuditChannelCreate, TestAttacker, false)

	assert.NoError(f.Engine.ProcessEvent(ctx, channelCreate("c1")))
	assert.Len(f.Platform.CallsTo("DeleteChannel"), 1)
	assert.Empty(f.Platform.CallsTo("Kick", "Timeout"))
}

func TestRoleUpdateScenario(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Attribute(platform.AuditRoleUpdate, TestAttacker, false)

	evt := &SecurityEvent{
		Kind:       KindRoleUpdate,
		TenantID:   TestTenant,
		RoleBefore: &platform.RoleState{ID: "r1", Name: "members", Permissions: 1024},
		RoleAfter:  &platform.RoleState{ID: "r1", Name: "members", Permissions: 8},
	}
	assert.NoError(f.Engine.ProcessEvent(ctx, evt))

	calls := f.Platform.CallsTo("EditRole")
	require.Len(t, calls, 1)
	assert.Equal("r1=members/1024", calls[0].Target)
	assert.Len(f.Platform.CallsTo("Kick"), 1)
	assert.Equal([]string{
		"Unauthorized Role Update | REVERTED",
		"Auto-Kicked for Unauthorized Role Update | AUTO-KICKED",
	}, parseIncidents(f.Incidents()))

	// cosmetic changes are not acted on
	cosmetic := &SecurityEvent{
		Kind:       KindRoleUpdate,
		TenantID:   TestTenant,
		RoleBefore: &platform.RoleState{ID: "r1", Name: "members", Permissions: 1024, Color: 1},
		RoleAfter:  &platform.RoleState{ID: "r1", Name: "members", Permissions: 1024, Color: 2},
	}
	assert.NoError(f.Engine.ProcessEvent(ctx, cosmetic))
	assert.Len(f.Platform.CallsTo("EditRole"), 1)
}

func TestDeletionsRecreated(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Attribute(platform.AuditChannelDelete, TestAttacker, false)
	f.Attribute(platform.AuditRoleDelete, TestAttacker, false)
	f.Platform.Fail("Kick", fmt.Errorf("upstream 502"))

	f.Engine.ProcessEvent(ctx, &SecurityEvent{Kind: KindChannelDelete, TenantID: TestTenant, ChannelBefore: &platform.ChannelState{ID: "c1", Name: "rules"}})
	f.Engine.ProcessEvent(ctx, &SecurityEvent{Kind: KindRoleDelete, TenantID: TestTenant, RoleBefore: &platform.RoleState{ID: "r1", Name: "mods"}})

	calls := f.Platform.CallsTo("CreateChannel", "CreateRole")
	require.Len(t, calls, 2)
	assert.Equal("rules", calls[0].Target)
	assert.Equal("mods", calls[1].Target)
	assert.Contains(parseIncidents(f.Incidents()), "Unauthorized Channel Delete | DELETED")
	assert.Contains(parseIncidents(f.Incidents()), "Unauthorized Role Deletion | DETECTED")
}

func TestWebhookSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Platform.Webhooks["c1"] = []string{"w1", "w2"}
	f.Attribute(platform.AuditWebhookCreate, TestAttacker, false)

	assert.NoError(f.Engine.ProcessEvent(ctx, &SecurityEvent{Kind: KindWebhookCreate, TenantID: TestTenant, ChannelID: "c1"}))
	calls := f.Platform.CallsTo("DeleteWebhook")
	require.Len(t, calls, 2)
	assert.Equal("w1", calls[0].Target)
	assert.Equal("w2", calls[1].Target)

	// listing failure is recorded and stops the pipeline
	g := EngineTestFixture()
	g.Platform.Fail("ChannelWebhooks", platform.ErrForbidden)
	g.Attribute(platform.AuditWebhookCreate, TestAttacker, false)
	assert.NoError(g.Engine.ProcessEvent(ctx, &SecurityEvent{Kind: KindWebhookCreate, TenantID: TestTenant, ChannelID: "c1"}))
	assert.Empty(g.Platform.CallsTo("Kick"))
	assert.Equal([]string{"Unauthorized Webhook Creation | FAILED"}, parseIncidents(g.Incidents()))
}

func TestVanityChange(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Attribute(platform.AuditGuildUpdate, TestAttacker, false)

	same := &SecurityEvent{Kind: KindGuildPropertyChange, TenantID: TestTenant, GuildBefore: &platform.GuildState{Name: "a", VanityCode: "v"}, GuildAfter: &platform.GuildState{Name: "b", VanityCode: "v"}}
	assert.NoError(f.Engine.ProcessEvent(ctx, same))
	assert.Empty(f.Platform.CallsTo())

	changed := &SecurityEvent{Kind: KindGuildPropertyChange, TenantID: TestTenant, GuildBefore: &platform.GuildState{VanityCode: "v"}, GuildAfter: &platform.GuildState{VanityCode: "scam"}}
	assert.NoError(f.Engine.ProcessEvent(ctx, changed))
	assert.Len(f.Platform.CallsTo("Kick"), 1)
	assert.Contains(parseIncidents(f.Incidents()), "Vanity URL Change Detected | DETECTED")
}

func TestMessageBurstScenario(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Platform.PurgeCount = 5

	for i := 0; i < 4; i++ {
		assert.NoError(f.Engine.ProcessEvent(ctx, message(TestAttacker, "c1")))
		f.Clock.Advance(time.Second)
	}
	assert.Empty(f.Platform.CallsTo("PurgeMessages", "Timeout"))

	assert.NoError(f.Engine.ProcessEvent(ctx, message(TestAttacker, "c1")))

	purges := f.Platform.CallsTo("PurgeMessages")
	require.Len(t, purges, 1)
	assert.Equal("c1/"+TestAttacker, purges[0].Target)
	timeouts := f.Platform.CallsTo("Timeout")
	require.Len(t, timeouts, 1)
	assert.Equal(f.Clock.Now().Add(12*time.Hour), timeouts[0].Until)
	assert.Equal([]string{
		"Spam messages auto-deleted | SPAM_DELETED",
		"Timed Out for Spam rate-limit | TIMED OUT",
	}, parseIncidents(f.Incidents()))
}

func TestMessageBurstStrikes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Policies.Update(ctx, TestTenant, func(p *policystore.TenantPolicy) error {
		p.SpamThreshold = 2
		p.StrikesToTimeout = 2
		return nil
	})

	f.Engine.ProcessEvent(ctx, message(TestAttacker, "c1"))
	f.Engine.ProcessEvent(ctx, message(TestAttacker, "c1"))
	assert.Len(f.Platform.CallsTo("PurgeMessages"), 1)
	assert.Empty(f.Platform.CallsTo("Timeout"))

	// window still holds the earlier messages, so this trips again
	f.Engine.ProcessEvent(ctx, message(TestAttacker, "c1"))
	assert.Len(f.Platform.CallsTo("PurgeMessages"), 2)
	assert.Len(f.Platform.CallsTo("Timeout"), 1)

	// strikes reset after the timeout
	f.Clock.Advance(time.Minute)
	f.Engine.ProcessEvent(ctx, message(TestAttacker, "c1"))
	f.Engine.ProcessEvent(ctx, message(TestAttacker, "c1"))
	assert.Len(f.Platform.CallsTo("Timeout"), 1)
}

func TestMessageBurstIgnoresBots(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()

	for i := 0; i < 10; i++ {
		evt := message("otherbot", "c1")
		evt.ActorBot = true
		f.Engine.ProcessEvent(ctx, evt)
	}
	assert.Empty(f.Platform.CallsTo("PurgeMessages"))
	assert.Empty(f.Incidents())
}

func TestMessageBurstWithoutLicense(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Licenses.Set(TestTenant, false)

	for i := 0; i < 5; i++ {
		assert.NoError(f.Engine.ProcessEvent(ctx, message(TestAttacker, "c1")))
	}
	assert.Len(f.Platform.CallsTo("PurgeMessages"), 1)
	assert.Len(f.Platform.CallsTo("Timeout"), 1)
	assert.Equal([]string{
		"Spam messages auto-deleted | SPAM_DELETED",
		"Timed Out for Spam rate-limit | TIMED OUT",
	}, parseIncidents(f.Incidents()))
}

// Adds a second licensed tenant where the attacker and bot are members with the usual ranks.
func addTenant(f *TestFixture, tenantID string) {
	f.Licenses.Set(tenantID, true)
	f.Platform.InsertMember(tenantID, platform.Member{UserID: TestBot, Bot: true, TopRolePosition: 10})
	f.Platform.InsertMember(tenantID, platform.Member{UserID: TestAttacker, TopRolePosition: 1})
	f.Platform.SetBotPermissions(tenantID, platform.PermAdministrator)
}

func TestRenamesCountedPerTenant(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	addTenant(f, "guild2")
	f.Attribute(platform.AuditChannelUpdate, TestAttacker, false)
	f.Platform.InsertAudit("guild2", platform.AuditChannelUpdate, platform.AuditEntry{ActorID: TestAttacker, CreatedAt: f.Clock.Now()})

	assert.NoError(f.Engine.ProcessEvent(ctx, channelRename("c1", "general", "x1")))
	assert.NoError(f.Engine.ProcessEvent(ctx, channelRename("c1", "x1", "x2")))
	other := channelRename("c9", "lobby", "y1")
	other.TenantID = "guild2"
	assert.NoError(f.Engine.ProcessEvent(ctx, other))

	assert.Empty(f.Platform.CallsTo("EditChannel", "Kick"))
	assert.Empty(f.Incidents())
	assert.Empty(f.Platform.ChannelMessages("guild2", "security-logs"))
}

func TestIncidentDedupPerTenant(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	addTenant(f, "guild2")
	f.Attribute(platform.AuditRoleDelete, TestAttacker, false)
	f.Platform.InsertAudit("guild2", platform.AuditRoleDelete, platform.AuditEntry{ActorID: TestAttacker, CreatedAt: f.Clock.Now()})
	f.Platform.Fail("Kick", fmt.Errorf("upstream 502"))

	for _, tenant := range []string{TestTenant, "guild2"} {
		evt := &SecurityEvent{Kind: KindRoleDelete, TenantID: tenant, RoleBefore: &platform.RoleState{ID: "r1", Name: "mods"}}
		f.Engine.ProcessEvent(ctx, evt)
	}
	want := []string{
		"Unauthorized Role Deletion | DETECTED",
		"Kick failed for Unauthorized Role Deletion | FAILED",
	}
	assert.Equal(want, parseIncidents(f.Incidents()))
	assert.Equal(want, parseIncidents(f.Platform.ChannelMessages("guild2", "security-logs")))
}

func TestNilEvent(t *testing.T) {
	f := EngineTestFixture()
	assert.Error(t, f.Engine.ProcessEvent(context.Background(), nil))
}

func TestPunishQuota(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Engine.PunishQuota = 2

	for i := 0; i < 3; i++ {
		actor := fmt.Sprintf("raider%d", i)
		f.Platform.InsertMember(TestTenant, platform.Member{UserID: actor, TopRolePosition: 1})
		f.Attribute(platform.AuditChannelCreate, actor, false)
		f.Engine.ProcessEvent(ctx, channelCreate(fmt.Sprintf("c%d", i)))
	}
	assert.Len(f.Platform.CallsTo("Kick"), 2)
	assert.Contains(parseIncidents(f.Incidents()), "Punishment quota exceeded for Unauthorized Channel Creation | BLOCKED/LOGGED")
}

func TestConcurrentTriggersPunishOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()
	f.Engine.PunishDelay = 100 * time.Millisecond
	f.Attribute(platform.AuditChannelCreate, TestAttacker, false)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.Engine.ProcessEvent(ctx, channelCreate(fmt.Sprintf("c%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Len(f.Platform.CallsTo("DeleteChannel"), 3)
	assert.Len(f.Platform.CallsTo("Kick"), 1)
}

func TestPunishDelayHonorsCancel(t *testing.T) {
	assert := assert.New(t)
	f := EngineTestFixture()
	f.Engine.PunishDelay = time.Hour
	f.Attribute(platform.AuditChannelCreate, TestAttacker, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.Engine.ProcessEvent(ctx, channelCreate("c1"))
	assert.True(errors.Is(err, context.DeadlineExceeded))
	assert.Empty(f.Platform.CallsTo("Kick"))
}

func TestJoinBurstHook(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture()

	var counts []int
	f.Engine.OnJoinBurst = func(ctx context.Context, tenantID, memberID string, count int) {
		counts = append(counts, count)
	}
	for i := 0; i < 11; i++ {
		evt := &SecurityEvent{Kind: KindMemberJoin, TenantID: TestTenant, ActorID: fmt.Sprintf("new%d", i)}
		assert.NoError(f.Engine.ProcessEvent(ctx, evt))
	}
	assert.Equal([]int{10, 11}, counts)
	// detection only
	assert.Empty(f.Platform.CallsTo(mutatingMethods...))

	// joins spread past the window start over
	counts = nil
	f.Clock.Advance(time.Minute)
	f.Engine.ProcessEvent(ctx, &SecurityEvent{Kind: KindMemberJoin, TenantID: TestTenant, ActorID: "late"})
	assert.Empty(counts)
}

func TestUnknownKind(t *testing.T) {
	assert := assert.New(t)
	f := EngineTestFixture()
	assert.Error(f.Engine.ProcessEvent(context.Background(), &SecurityEvent{Kind: "bogus", TenantID: TestTenant}))
}
