package biz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"OAuthGuard/internal/conf"
	"OAuthGuard/internal/data"
	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

type lifecycleFixture struct {
	lifecycle *TokenLifecycle
	repo      *mockTokenRepo
	refresher *mockRefresher
	audit     *mockAudit
	clock     *fakeClock
	metrics   *metrics.Metrics
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	clock := newFakeClock()
	audit := &mockAudit{}
	repo := &mockTokenRepo{}
	refresher := &mockRefresher{ok: true, extendBy: time.Hour, clock: clock}
	m := metrics.New(prometheus.NewRegistry())

	breaker := NewCircuitBreaker(&conf.Breaker{FailureThreshold: 2, OpenTimeout: durationpb.New(time.Minute)}, audit, m, testLogger())
	breaker.now = clock.Now

	l := NewTokenLifecycle(&conf.Lifecycle{Workers: 2, QueueSize: 16}, repo, refresher, breaker, audit, m, testLogger())
	l.now = clock.Now
	t.Cleanup(l.Stop)

	return &lifecycleFixture{lifecycle: l, repo: repo, refresher: refresher, audit: audit, clock: clock, metrics: m}
}

func (f *lifecycleFixture) token(userID int64, expiresIn time.Duration) *data.OAuthToken {
	return f.repo.add(&data.OAuthToken{
		UserID:                userID,
		ExpiresAt:             f.clock.Now().Add(expiresIn),
		AccessTokenEncrypted:  "v1:access",
		RefreshTokenEncrypted: "v1:refresh",
	})
}

func TestTokenLifecycle_Defaults(t *testing.T) {
	l := NewTokenLifecycle(nil, &mockTokenRepo{}, &mockRefresher{}, nil, &mockAudit{}, nil, testLogger())
	assert.Equal(t, DefaultLookahead, l.lookahead)
	assert.Equal(t, DefaultRefreshBuffer, l.buffer)
	assert.Equal(t, DefaultRefreshTimeout, l.refreshTimeout)
}

func TestTokenLifecycle_NeedsRefresh(t *testing.T) {
	f := newLifecycleFixture(t)
	l := f.lifecycle

	assert.True(t, l.NeedsRefresh(f.token(1, 4*time.Minute)))
	assert.True(t, l.NeedsRefresh(f.token(2, 5*time.Minute)), "boundary is inclusive")
	assert.True(t, l.NeedsRefresh(f.token(3, -time.Minute)), "already expired")
	assert.False(t, l.NeedsRefresh(f.token(4, 10*time.Minute)))
	assert.False(t, l.NeedsRefresh(nil))

	invalidated := f.token(5, time.Minute)
	at := f.clock.Now()
	invalidated.InvalidatedAt = &at
	assert.False(t, l.NeedsRefresh(invalidated))

	assert.True(t, l.Expired(f.token(6, 0)))
	assert.False(t, l.Expired(f.token(7, time.Second)))
}

func TestTokenLifecycle_EnqueueExpiringRefreshes(t *testing.T) {
	f := newLifecycleFixture(t)

	f.token(1, 20*time.Minute)
	f.token(1, 15*time.Minute)
	f.token(2, 25*time.Minute)
	f.token(3, 120*time.Minute)
	f.token(4, -time.Hour)
	f.token(6, 30*time.Minute)
	invalidated := f.token(5, 10*time.Minute)
	at := f.clock.Now()
	invalidated.InvalidatedAt = &at

	users, err := f.lifecycle.EnqueueExpiringRefreshes(context.Background(), 30*time.Minute)
	require.NoError(t, err)

	assert.Len(t, users, 3)
	assert.Contains(t, users, int64(1))
	assert.Contains(t, users, int64(2))
	assert.Contains(t, users, int64(6), "upper bound is inclusive")
	assert.NotContains(t, users, int64(3))
	assert.NotContains(t, users, int64(4))
	assert.NotContains(t, users, int64(5))

	assert.Equal(t, 3, f.lifecycle.queue.Pending(), "one task per user")
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.RefreshEnqueuedTotal))
}

func TestTokenLifecycle_ScheduleExpiringRefreshCheck(t *testing.T) {
	f := newLifecycleFixture(t)
	f.token(1, 20*time.Minute)
	f.token(2, 50*time.Minute)

	users, err := f.lifecycle.ScheduleExpiringRefreshCheck(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, users, 1, "falls back to configured 30 minute buffer")

	users, err = f.lifecycle.ScheduleExpiringRefreshCheck(context.Background(), 60)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestTokenLifecycle_EnqueueListError(t *testing.T) {
	f := newLifecycleFixture(t)
	f.repo.listExpiringErr = errors.New("db down")

	_, err := f.lifecycle.EnqueueExpiringRefreshes(context.Background(), time.Hour)
	assert.Error(t, err)
}

func TestTokenLifecycle_RefreshUserIdempotent(t *testing.T) {
	f := newLifecycleFixture(t)
	tok := f.token(1, 2*time.Minute)
	ctx := context.Background()

	ok, err := f.lifecycle.RefreshUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, f.clock.Now().Add(time.Hour), tok.ExpiresAt)

	ok, err = f.lifecycle.RefreshUser(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "second run sees a fresh token")

	assert.Equal(t, 1, f.refresher.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TokenRefreshTotal.WithLabelValues(refreshResultSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TokenRefreshTotal.WithLabelValues(refreshResultSkipped)))
	assert.Contains(t, f.audit.kinds(), model.AuditTokenRefreshed)
}

func TestTokenLifecycle_RefreshUserUnlinked(t *testing.T) {
	f := newLifecycleFixture(t)

	ok, err := f.lifecycle.RefreshUser(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, f.refresher.Calls())
}

func TestTokenLifecycle_RefreshUserRefused(t *testing.T) {
	f := newLifecycleFixture(t)
	f.refresher.ok = false
	f.token(1, time.Minute)

	ok, err := f.lifecycle.RefreshUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "refused", f.audit.last(model.AuditTokenRefreshFail)["reason"])
	assert.False(t, f.lifecycle.breaker.IsOpen(OperationTokenRefresh), "refusal is not a provider failure")
}

func TestTokenLifecycle_RefreshFailuresOpenCircuit(t *testing.T) {
	f := newLifecycleFixture(t)
	f.refresher.err = errBoom
	f.token(1, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.lifecycle.RefreshUser(ctx, 1)
		assert.ErrorIs(t, err, errBoom)
	}

	_, err := f.lifecycle.RefreshUser(ctx, 1)
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 2, f.refresher.Calls(), "open circuit does not reach the provider")
}

func TestTokenLifecycle_RefreshNowSkipsNewerVersion(t *testing.T) {
	f := newLifecycleFixture(t)
	tok := f.token(1, time.Hour)
	tok.Version = 2

	observed := &data.OAuthToken{ID: tok.ID, UserID: 1, Version: 1}
	ok, err := f.lifecycle.RefreshNow(context.Background(), observed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, f.refresher.Calls())
}

func TestTokenLifecycle_RefreshNowCoalesces(t *testing.T) {
	f := newLifecycleFixture(t)
	f.refresher.delay = 50 * time.Millisecond
	tok := f.token(1, -time.Minute)
	snapshot := *tok

	var wg sync.WaitGroup
	results := make([]bool, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			observed := snapshot
			results[i], errs[i] = f.lifecycle.RefreshNow(context.Background(), &observed)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i])
	}
	assert.Equal(t, 1, f.refresher.Calls())
	assert.Zero(t, f.lifecycle.locks.size())
}

func TestTokenLifecycle_RefreshNowIgnoresCallerCancel(t *testing.T) {
	f := newLifecycleFixture(t)
	f.refresher.delay = 20 * time.Millisecond
	tok := f.token(1, -time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := f.lifecycle.RefreshNow(ctx, tok)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTokenLifecycle_StartProcessesQueue(t *testing.T) {
	f := newLifecycleFixture(t)
	f.token(1, 10*time.Minute)
	f.token(2, 20*time.Minute)
	f.lifecycle.lookahead = 30 * time.Minute

	f.lifecycle.Start(context.Background())
	_, err := f.lifecycle.EnqueueExpiringRefreshes(context.Background(), 30*time.Minute)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.refresher.Calls() == 2 }, time.Second, 5*time.Millisecond)
	f.lifecycle.Stop()
	assert.Zero(t, f.lifecycle.queue.Pending())
}
