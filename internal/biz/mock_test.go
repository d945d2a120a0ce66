package biz

import (
	"context"
	"os"
	"sync"
	"time"

	"OAuthGuard/internal/data"
	"OAuthGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

func testLogger() log.Logger {
	return log.NewStdLogger(os.Stdout)
}

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mockTokenRepo 内存 Token 仓库
type mockTokenRepo struct {
	mu              sync.Mutex
	tokens          []*data.OAuthToken
	mostRecentErr   error
	invalidateErr   error
	listExpiringErr error
	invalidateCalls int
}

func (m *mockTokenRepo) add(t *data.OAuthToken) *data.OAuthToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = int64(len(m.tokens) + 1)
	}
	if t.Version == 0 {
		t.Version = 1
	}
	m.tokens = append(m.tokens, t)
	return t
}

func (m *mockTokenRepo) Get(_ context.Context, id int64) (*data.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, data.ErrTokenNotFound
}

func (m *mockTokenRepo) MostRecent(_ context.Context, userID int64) (*data.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mostRecentErr != nil {
		return nil, m.mostRecentErr
	}
	var latest *data.OAuthToken
	for _, t := range m.tokens {
		if t.UserID == userID && (latest == nil || t.ID > latest.ID) {
			latest = t
		}
	}
	if latest == nil {
		return nil, data.ErrTokenNotFound
	}
	return latest, nil
}

func (m *mockTokenRepo) InvalidateAll(_ context.Context, userID int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateCalls++
	if m.invalidateErr != nil {
		return 0, m.invalidateErr
	}
	var n int64
	for _, t := range m.tokens {
		if t.UserID == userID {
			t.ExpiresAt = at
			invalidatedAt := at
			t.InvalidatedAt = &invalidatedAt
			t.Version++
			n++
		}
	}
	return n, nil
}

func (m *mockTokenRepo) ListExpiring(_ context.Context, _, _ time.Time) ([]*data.OAuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listExpiringErr != nil {
		return nil, m.listExpiringErr
	}
	// 不在这里过滤，由调用方保证区间
	return append([]*data.OAuthToken(nil), m.tokens...), nil
}

// mockRefresher 成功时把 Token 延长 extendBy
type mockRefresher struct {
	mu       sync.Mutex
	calls    int
	ok       bool
	err      error
	extendBy time.Duration
	clock    *fakeClock
	delay    time.Duration
}

func (m *mockRefresher) Refresh(ctx context.Context, token *data.OAuthToken) (bool, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil || !m.ok {
		return false, m.err
	}
	token.ExpiresAt = m.clock.Now().Add(m.extendBy)
	token.Version++
	return true, nil
}

func (m *mockRefresher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockAudit 记录审计事件
type mockAudit struct {
	mu     sync.Mutex
	events []auditEvent
}

type auditEvent struct {
	kind    model.AuditEventKind
	payload model.AuditPayload
}

func (m *mockAudit) LogEvent(_ context.Context, kind model.AuditEventKind, payload model.AuditPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, auditEvent{kind: kind, payload: payload})
}

func (m *mockAudit) kinds() []model.AuditEventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditEventKind, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.kind)
	}
	return out
}

func (m *mockAudit) last(kind model.AuditEventKind) model.AuditPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].kind == kind {
			return m.events[i].payload
		}
	}
	return nil
}

// mockNotifier 记录通知
type mockNotifier struct {
	mu    sync.Mutex
	users []*model.UserNotification
	admin []*model.AdminNotification
	err   error
}

func (m *mockNotifier) NotifyUser(_ context.Context, n *model.UserNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.users = append(m.users, n)
	return nil
}

func (m *mockNotifier) NotifyAdmin(_ context.Context, n *model.AdminNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.admin = append(m.admin, n)
	return nil
}

func (m *mockNotifier) ListUser(_ context.Context, userID int64, _ int) ([]*model.UserNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.UserNotification
	for _, n := range m.users {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockNotifier) Dismiss(context.Context, int64, string) error { return nil }

func (m *mockNotifier) ListAdmin(context.Context, int) ([]*model.AdminNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admin, nil
}

// mockRateLimitCache 内存限流缓存
type mockRateLimitCache struct {
	mu      sync.Mutex
	entries map[string]time.Duration
	states  map[string]*data.RateLimitState
	err     error
}

func newMockRateLimitCache() *mockRateLimitCache {
	return &mockRateLimitCache{
		entries: make(map[string]time.Duration),
		states:  make(map[string]*data.RateLimitState),
	}
}

func (m *mockRateLimitCache) MarkRateLimited(_ context.Context, userID int64, provider string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[data.RateLimitKey(userID, provider)] = ttl
	return m.err
}

func (m *mockRateLimitCache) RateLimited(_ context.Context, userID int64, provider string) (*data.RateLimitState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[data.RateLimitKey(userID, provider)], m.err
}
