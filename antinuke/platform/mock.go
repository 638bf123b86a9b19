package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// A recorded call against a MockPlatform.
type Call struct {
	Method   string
	TenantID string
	Target   string
	Reason   string
	Until    time.Time
}

// A fake platform, for use in tests. Every mutation is recorded in order, and any method can be made to fail via the Failures map (keyed by method name).
type MockPlatform struct {
	mu *sync.Mutex

	BotID      string
	BotPerms   map[string]Permissions
	Members    map[string]*Member
	Audit      map[string][]AuditEntry
	Webhooks   map[string][]string
	Failures   map[string]error
	Calls      []Call
	Channels   map[string]string
	Messages   map[string][]string
	Roles      map[string]string
	PurgeCount int

	nextID int
}

var _ Platform = (*MockPlatform)(nil)

func NewMockPlatform(botID string) MockPlatform {
	return MockPlatform{
		mu:         &sync.Mutex{},
		BotID:      botID,
		BotPerms:   make(map[string]Permissions),
		Members:    make(map[string]*Member),
		Audit:      make(map[string][]AuditEntry),
		Webhooks:   make(map[string][]string),
		Failures:   make(map[string]error),
		Channels:   make(map[string]string),
		Messages:   make(map[string][]string),
		Roles:      make(map[string]string),
		PurgeCount: 0,
	}
}

func memberKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

func auditKey(tenantID string, action AuditAction) string {
	return tenantID + "/" + string(action)
}

func (p *MockPlatform) InsertMember(tenantID string, m Member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Members[memberKey(tenantID, m.UserID)] = &m
}

// Prepends an audit entry, so it becomes the most recent for that action category.
func (p *MockPlatform) InsertAudit(tenantID string, action AuditAction, e AuditEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := auditKey(tenantID, action)
	p.Audit[k] = append([]AuditEntry{e}, p.Audit[k]...)
}

func (p *MockPlatform) SetBotPermissions(tenantID string, perms Permissions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BotPerms[tenantID] = perms
}

func (p *MockPlatform) Fail(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Failures[method] = err
}

// Returns a copy of the recorded calls, optionally filtered by method name.
func (p *MockPlatform) CallsTo(methods ...string) []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	want := make(map[string]bool, len(methods))
	for _, m := range methods {
		want[m] = true
	}
	out := []Call{}
	for _, c := range p.Calls {
		if len(want) == 0 || want[c.Method] {
			out = append(out, c)
		}
	}
	return out
}

// Returns a copy of the messages sent to the named channel of the tenant.
func (p *MockPlatform) ChannelMessages(tenantID, name string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.Channels[tenantID+"/"+name]
	if !ok {
		return nil
	}
	return append([]string{}, p.Messages[id]...)
}

// must be called with lock held
func (p *MockPlatform) record(c Call) error {
	p.Calls = append(p.Calls, c)
	if err, ok := p.Failures[c.Method]; ok {
		return err
	}
	return nil
}

func (p *MockPlatform) QueryAuditLog(ctx context.Context, tenantID string, action AuditAction, limit int) ([]AuditEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(Call{Method: "QueryAuditLog", TenantID: tenantID, Target: string(action)}); err != nil {
		return nil, err
	}
	entries := p.Audit[auditKey(tenantID, action)]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return append([]AuditEntry{}, entries...), nil
}

func (p *MockPlatform) BotUserID() string {
	return p.BotID
}

func (p *MockPlatform) GetMember(ctx context.Context, tenantID, userID string) (*Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Failures["GetMember"]; ok {
		return nil, err
	}
	m, ok := p.Members[memberKey(tenantID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m
	out.Roles = append([]string{}, m.Roles...)
	return &out, nil
}

func (p *MockPlatform) BotPermissions(ctx context.Context, tenantID string) (Permissions, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Failures["BotPermissions"]; ok {
		return 0, err
	}
	return p.BotPerms[tenantID], nil
}

func (p *MockPlatform) Kick(ctx context.Context, tenantID, userID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record(Call{Method: "Kick", TenantID: tenantID, Target: userID, Reason: reason})
}

func (p *MockPlatform) Timeout(ctx context.Context, tenantID, userID string, until time.Time, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record(Call{Method: "Timeout", TenantID: tenantID, Target: userID, Reason: reason, Until: until})
}

func (p *MockPlatform) CreateChannel(ctx context.Context, tenantID string, ch ChannelState, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record(Call{Method: "CreateChannel", TenantID: tenantID, Target: ch.Name, Reason: reason})
}

func (p *MockPlatform) EditChannel(ctx context.Context, tenantID string, ch ChannelState, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record(Call{Method: "EditChannel", TenantID: tenantID, Target: ch.ID + "=" + ch.Name, Reason: reason})
}

func (p *MockPlatform) DeleteChannel(ctx context.Context, tenantID, channelID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record(Call{Method: "DeleteChannel", TenantID: tenantID, Target: channelID, Reason: reason})
}

func (p *MockPlatform) CreateRole(ctx context.Context, tenantID string, role RoleState, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record(Call{Method: "CreateRole", TenantID: tenantID, Target: role.Name, Reason: reason})
}

func (p *MockPlatform) EditRole(ctx context.Context, tenantID string, role RoleState, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record(Call{Method: "EditRole", TenantID: tenantID, Target: fmt.Sprintf("%s=%s/%d", role.ID, role.Name, role.Permissions), Reason: reason})
}

func (p *MockPlatform) DeleteRole(ctx context.Context, tenantID, roleID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record(Call{Method: "DeleteRole", TenantID: tenantID, Target: roleID, Reason: reason})
}

func (p *MockPlatform) ChannelWebhooks(ctx context.Context, tenantID, channelID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(Call{Method: "ChannelWebhooks", TenantID: tenantID, Target: channelID}); err != nil {
		return nil, err
	}
	return append([]string{}, p.Webhooks[channelID]...), nil
}

func (p *MockPlatform) DeleteWebhook(ctx context.Context, tenantID, webhookID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record(Call{Method: "DeleteWebhook", TenantID: tenantID, Target: webhookID, Reason: reason})
}

func (p *MockPlatform) PurgeMessages(ctx context.Context, tenantID, channelID, authorID string, limit int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(Call{Method: "PurgeMessages", TenantID: tenantID, Target: channelID + "/" + authorID}); err != nil {
		return 0, err
	}
	return p.PurgeCount, nil
}

func (p *MockPlatform) EnsureTextChannel(ctx context.Context, tenantID, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Failures["EnsureTextChannel"]; ok {
		return "", err
	}
	k := tenantID + "/" + name
	id, ok := p.Channels[k]
	if !ok {
		p.nextID++
		id = fmt.Sprintf("chan-%d", p.nextID)
		p.Channels[k] = id
		p.Calls = append(p.Calls, Call{Method: "CreateTextChannel", TenantID: tenantID, Target: name})
	}
	return id, nil
}

func (p *MockPlatform) DeleteChannelByName(ctx context.Context, tenantID, name, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Channels, tenantID+"/"+name)
	return p.record(Call{Method: "DeleteChannelByName", TenantID: tenantID, Target: name, Reason: reason})
}

func (p *MockPlatform) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Failures["SendMessage"]; ok {
		return "", err
	}
	p.Messages[channelID] = append(p.Messages[channelID], content)
	return fmt.Sprintf("%s/msg-%d", channelID, len(p.Messages[channelID])), nil
}

func (p *MockPlatform) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record(Call{Method: "EditMessage", Target: channelID + "/" + messageID, Reason: content})
}

// Returns the sorted names of tenant system channels which currently exist.
func (p *MockPlatform) ChannelNames(tenantID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := tenantID + "/"
	out := []string{}
	for k := range p.Channels {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k[len(prefix):])
		}
	}
	sort.Strings(out)
	return out
}

func (p *MockPlatform) EnsureRole(ctx context.Context, tenantID, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(Call{Method: "EnsureRole", TenantID: tenantID, Target: name}); err != nil {
		return "", err
	}
	k := tenantID + "/" + name
	id, ok := p.Roles[k]
	if !ok {
		p.nextID++
		id = fmt.Sprintf("role-%d", p.nextID)
		p.Roles[k] = id
	}
	return id, nil
}

func (p *MockPlatform) EnsureGatedChannel(ctx context.Context, tenantID, name, roleID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Failures["EnsureGatedChannel"]; ok {
		return "", err
	}
	k := tenantID + "/" + name
	id, ok := p.Channels[k]
	if !ok {
		p.nextID++
		id = fmt.Sprintf("chan-%d", p.nextID)
		p.Channels[k] = id
		p.Calls = append(p.Calls, Call{Method: "CreateGatedChannel", TenantID: tenantID, Target: name, Reason: roleID})
	}
	return id, nil
}

func (p *MockPlatform) SendButton(ctx context.Context, channelID, content, label, customID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(Call{Method: "SendButton", Target: channelID + "/" + customID, Reason: label}); err != nil {
		return "", err
	}
	p.Messages[channelID] = append(p.Messages[channelID], content)
	return fmt.Sprintf("%s/msg-%d", channelID, len(p.Messages[channelID])), nil
}

// Grants the role to a known member.
func (p *MockPlatform) AddRole(ctx context.Context, tenantID, userID, roleID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(Call{Method: "AddRole", TenantID: tenantID, Target: userID + "/" + roleID, Reason: reason}); err != nil {
		return err
	}
	m, ok := p.Members[memberKey(tenantID, userID)]
	if !ok {
		return ErrNotFound
	}
	m.Roles = append(m.Roles, roleID)
	return nil
}
