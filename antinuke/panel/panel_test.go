package panel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenbot/warden/antinuke/cachestore"
	"github.com/wardenbot/warden/antinuke/incident"
	"github.com/wardenbot/warden/antinuke/licensestore"
	"github.com/wardenbot/warden/antinuke/platform"
	"github.com/wardenbot/warden/antinuke/policystore"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRemainingHuman(t *testing.T) {
	assert := assert.New(t)

	rec := func(exp string) *licensestore.Record {
		return &licensestore.Record{Key: "k", ExpiresAt: exp, TenantID: "g", Used: true}
	}
	later := testNow.Add(6*24*time.Hour + 23*time.Hour + 59*time.Minute + 10*time.Second + 400*time.Millisecond)

	testCases := []struct {
		name string
		rec  *licensestore.Record
		want string
	}{
		{"none", nil, "No active license"},
		{"permanent", rec(licensestore.Permanent), "Key: permanent"},
		{"expired", rec(testNow.Add(-time.Minute).Format(time.RFC3339Nano)), "Key: expired"},
		{"expiring now", rec(testNow.Format(time.RFC3339Nano)), "Key: expired"},
		{"malformed", rec("soon"), "No active license"},
		{"remaining", rec(later.Format(time.RFC3339Nano)), "Key expires in 6d 23h 59m 10s"},
	}
	for _, tc := range testCases {
		assert.Equal(tc.want, RemainingHuman(tc.rec, testNow), tc.name)
	}
}

func TestRender(t *testing.T) {
	assert := assert.New(t)

	snap := &Snapshot{
		Toggles: map[policystore.Flag]bool{
			policystore.AutoKick:    true,
			policystore.AntiRaid:    true,
			policystore.AntiWebhook: false,
		},
		LicenseRemaining: "Key: permanent",
		AllowListCount:   2,
	}
	out := snap.Render()
	lines := strings.Split(out, "\n")
	assert.Equal(Title, lines[0])
	assert.Contains(out, "\nAuto-Kick: ON\nAuto-Timeout: OFF\nAnti-ChannelCreate: OFF\n")
	assert.Contains(out, "Anti-Raid: ON\n")
	assert.Contains(out, "Anti-Webhook: OFF\n")
	assert.True(strings.HasSuffix(out, "License: Key: permanent\nAllow-list count: 2"))
}

type fixture struct {
	platform *platform.MockPlatform
	policies *policystore.MemStore
	licenses *licensestore.MemStore
	pub      *Publisher
}

func newFixture() *fixture {
	p := platform.NewMockPlatform("bot")
	policies := policystore.NewMemStore()
	licenses := licensestore.NewMemStore()
	reg := licensestore.NewRegistry(licenses, nil, nil)
	reg.Now = func() time.Time { return testNow }
	pub := NewPublisher(policies, reg, incident.NewChannelSink(&p, nil, nil), &p, nil)
	pub.Now = func() time.Time { return testNow }
	pub.Cache = cachestore.NewMemStore(100, time.Hour)
	return &fixture{platform: &p, policies: policies, licenses: licenses, pub: pub}
}

func (f *fixture) license(t *testing.T, tenantID string) {
	rec := &licensestore.Record{Key: "key-" + tenantID, ExpiresAt: licensestore.Permanent, Used: true, TenantID: tenantID, UserID: "owner"}
	require.NoError(t, f.licenses.Put(context.Background(), rec))
}

func TestSnapshot(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()

	snap, err := f.pub.Snapshot(ctx, "guild1")
	require.NoError(err)
	assert.Equal("No active license", snap.LicenseRemaining)
	assert.Equal(0, snap.AllowListCount)
	assert.True(snap.Toggles[policystore.AutoKick])
	assert.Len(snap.Toggles, len(policystore.AllFlags))

	require.NoError(f.licenses.Put(ctx, &licensestore.Record{Key: "k1", ExpiresAt: licensestore.Permanent, Used: true, TenantID: "guild1", UserID: "owner"}))
	_, err = f.policies.Update(ctx, "guild1", func(p *policystore.TenantPolicy) error {
		p.Allow("a")
		p.Allow("b")
		p.SetToggle(policystore.AutoTimeout, true)
		return nil
	})
	require.NoError(err)

	snap, err = f.pub.Snapshot(ctx, "guild1")
	require.NoError(err)
	assert.Equal("Key: permanent", snap.LicenseRemaining)
	assert.Equal(2, snap.AllowListCount)
	assert.False(snap.Toggles[policystore.AutoKick])
	assert.True(snap.Toggles[policystore.AutoTimeout])
}

func TestPublishAndRefresh(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()
	f.license(t, "guild1")

	_, err := f.pub.Publish(ctx, "guild1", "owner")
	require.NoError(err)
	msgs := f.platform.ChannelMessages("guild1", "security-panel")
	require.Len(msgs, 1)
	assert.True(strings.HasPrefix(msgs[0], Title))

	pol, err := f.policies.Get(ctx, "guild1")
	require.NoError(err)
	assert.NotEmpty(pol.PanelChannelID)
	assert.NotEmpty(pol.PanelMessageID)

	_, err = policystore.SetToggle(ctx, f.policies, "guild1", policystore.AntiWebhook, false)
	require.NoError(err)
	require.NoError(f.pub.RefreshAll(ctx))

	edits := f.platform.CallsTo("EditMessage")
	require.Len(edits, 1)
	assert.Equal(pol.PanelChannelID+"/"+pol.PanelMessageID, edits[0].Target)
	assert.Contains(edits[0].Reason, "Anti-Webhook: OFF")
}

func TestPublishRequiresLicense(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.pub.SuperAdminID = "root"

	_, err := f.pub.Publish(ctx, "guild1", "owner")
	assert.ErrorIs(err, ErrUnlicensed)
	assert.Empty(f.platform.ChannelNames("guild1"))

	// an expired key does not count
	require.NoError(t, f.licenses.Put(ctx, &licensestore.Record{Key: "old", ExpiresAt: testNow.Add(-time.Hour).Format(time.RFC3339Nano), Used: true, TenantID: "guild1", UserID: "owner"}))
	_, err = f.pub.Publish(ctx, "guild1", "owner")
	assert.ErrorIs(err, ErrUnlicensed)

	_, err = f.pub.Publish(ctx, "guild1", "root")
	assert.NoError(err)
	assert.Len(f.platform.ChannelMessages("guild1", "security-panel"), 1)
}

func TestPublishSetsUpVerification(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()
	f.license(t, "guild1")

	_, err := f.pub.Publish(ctx, "guild1", "owner")
	require.NoError(err)

	gated := f.platform.CallsTo("CreateGatedChannel")
	require.Len(gated, 1)
	assert.Equal("verify", gated[0].Target)
	assert.Equal(f.platform.Roles["guild1/$verified"], gated[0].Reason)

	buttons := f.platform.CallsTo("SendButton")
	require.Len(buttons, 1)
	assert.True(strings.HasSuffix(buttons[0].Target, "/"+VerifyButtonID))
	assert.Equal([]string{"Press the button below to verify yourself."}, f.platform.ChannelMessages("guild1", "verify"))
}

func TestPublishSurvivesVerifyFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.license(t, "guild1")
	f.platform.Fail("EnsureRole", platform.ErrForbidden)

	_, err := f.pub.Publish(ctx, "guild1", "owner")
	assert.NoError(err)
	assert.Len(f.platform.ChannelMessages("guild1", "security-panel"), 1)
	assert.Empty(f.platform.CallsTo("SendButton"))
}

func TestVerify(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()
	f.platform.InsertMember("guild1", platform.Member{UserID: "newbie"})

	outcome, err := f.pub.Verify(ctx, "guild1", "newbie")
	require.NoError(err)
	assert.Equal(Verified, outcome)
	assert.Equal("You have been verified!", VerifyReply(outcome, err))

	outcome, err = f.pub.Verify(ctx, "guild1", "newbie")
	require.NoError(err)
	assert.Equal(AlreadyVerified, outcome)
	assert.Equal("You are already verified.", VerifyReply(outcome, err))

	// the role ID was cached after the first lookup
	assert.Len(f.platform.CallsTo("EnsureRole"), 1)
	adds := f.platform.CallsTo("AddRole")
	require.Len(adds, 1)
	assert.Equal("newbie/"+f.platform.Roles["guild1/$verified"], adds[0].Target)
}

func TestVerifyFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.platform.InsertMember("guild1", platform.Member{UserID: "newbie"})
	f.platform.Fail("AddRole", platform.ErrForbidden)

	outcome, err := f.pub.Verify(ctx, "guild1", "newbie")
	assert.ErrorIs(err, platform.ErrForbidden)
	assert.Equal("Failed to add role (missing perms).", VerifyReply(outcome, err))
}

func TestVerifyRefreshesDeletedRole(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	f.platform.InsertMember("guild1", platform.Member{UserID: "newbie"})
	require.NoError(t, cachestore.SetJSON(ctx, f.pub.Cache, verifyCacheNS, "guild1", verifyRole{ID: "gone", Name: "$verified"}))
	f.platform.Fail("AddRole", platform.ErrNotFound)

	_, err := f.pub.Verify(ctx, "guild1", "newbie")
	assert.ErrorIs(err, platform.ErrNotFound)
	// the stale ID was dropped and the role looked up again
	assert.Len(f.platform.CallsTo("AddRole"), 2)
	assert.Len(f.platform.CallsTo("EnsureRole"), 1)
}

func TestRefreshSkipsUnpublished(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()

	_, err := policystore.SetToggle(ctx, f.policies, "guild1", policystore.AntiRaid, false)
	assert.NoError(err)
	assert.NoError(f.pub.RefreshAll(ctx))
	assert.Empty(f.platform.CallsTo("EditMessage"))
}

func TestRefreshForgetsMissingMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := newFixture()
	f.license(t, "guild1")

	_, err := f.pub.Publish(ctx, "guild1", "owner")
	require.NoError(err)
	f.platform.Fail("EditMessage", platform.ErrNotFound)

	require.NoError(f.pub.Refresh(ctx, "guild1"))
	pol, err := f.policies.Get(ctx, "guild1")
	require.NoError(err)
	assert.Empty(pol.PanelMessageID)
	assert.Empty(pol.PanelChannelID)

	// nothing left to edit
	require.NoError(f.pub.Refresh(ctx, "guild1"))
	assert.Len(f.platform.CallsTo("EditMessage"), 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- f.pub.Run(ctx, time.Millisecond) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("panel loop did not stop")
	}
}
