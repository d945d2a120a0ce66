package biz

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"OAuthGuard/internal/conf"
	"OAuthGuard/internal/data"
	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/metrics"
	"OAuthGuard/pkg/oauth"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatcherFixture struct {
	*lifecycleFixture
	dispatcher *RecoveryDispatcher
	notifier   *mockNotifier
	cache      *mockRateLimitCache
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := newLifecycleFixture(t)
	notifier := &mockNotifier{}
	cache := newMockRateLimitCache()

	network := NewNetworkRetryStrategy(notifier, testLogger())
	rateLimit := NewRateLimitStrategy(cache, notifier, f.audit, &conf.OAuth{Provider: "acme"}, testLogger())
	rateLimit.now = f.clock.Now
	reauth := NewReauthenticationStrategy(f.repo, notifier, f.audit, nil, testLogger())
	reauth.now = f.clock.Now
	refresh := NewTokenRefreshStrategy(f.repo, f.lifecycle, testLogger())
	fallback := NewDefaultStrategy(notifier, f.audit, testLogger())

	d := NewRecoveryDispatcher(network, rateLimit, reauth, refresh, fallback, f.audit, f.metrics, testLogger())
	return &dispatcherFixture{lifecycleFixture: f, dispatcher: d, notifier: notifier, cache: cache}
}

// stubStrategy 固定行为的策略
type stubStrategy struct {
	name  string
	kinds []oauth.ErrorKind
	exec  func(err error) (*RecoveryResult, error)
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) CanHandle(kind oauth.ErrorKind) bool {
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *stubStrategy) Execute(_ context.Context, _ *User, err error, _ *RecoveryContext) (*RecoveryResult, error) {
	s.calls++
	return s.exec(err)
}

func TestRecoveryDispatcher_StrategySelection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"network", oauth.NewNetworkError(errors.New("reset")), StrategyNetworkRetry},
		{"server", oauth.NewServerError(502, "bad gateway"), StrategyNetworkRetry},
		{"rate limit", oauth.NewRateLimitError(nil, nil), StrategyRateLimit},
		{"revoked", oauth.NewAccessRevokedError(""), StrategyReauthenticate},
		{"invalid refresh", oauth.NewInvalidRefreshTokenError(""), StrategyReauthenticate},
		{"scope", oauth.NewScopeError(""), StrategyReauthenticate},
		{"invalid access", oauth.NewInvalidAccessTokenError(""), StrategyTokenRefresh},
		{"configuration", oauth.NewConfigurationError("bad client"), StrategyDefault},
		{"unknown", errors.New("weird"), StrategyDefault},
		{"reauth flag on server error", &oauth.Error{Kind: oauth.KindServer, RequiresReauth: true}, StrategyReauthenticate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(t)
			f.token(testUser.ID, time.Minute)

			res := f.dispatcher.Recover(context.Background(), testUser, tt.err, NewRecoveryContext("c"))
			require.NotNil(t, res)
			assert.Equal(t, tt.want, res.Strategy)
			assert.Contains(t, f.audit.kinds(), model.AuditRecoveryAttempt)
		})
	}
}

func TestRecoveryDispatcher_TokenRefreshSuccess(t *testing.T) {
	f := newDispatcherFixture(t)
	tok := f.token(testUser.ID, -time.Minute)

	res := f.dispatcher.Recover(context.Background(), testUser, oauth.NewInvalidAccessTokenError("expired"), NewRecoveryContext("c"))
	assert.Equal(t, StrategyTokenRefresh, res.Strategy)
	assert.True(t, res.CanRetry)
	assert.False(t, res.RequiresUserAction)
	assert.Equal(t, int64(2), tok.Version)
}

func TestRecoveryDispatcher_NoRefreshTokenEscalatesToReauth(t *testing.T) {
	f := newDispatcherFixture(t)
	f.repo.add(&data.OAuthToken{UserID: testUser.ID, ExpiresAt: f.clock.Now().Add(-time.Minute)})

	res := f.dispatcher.Recover(context.Background(), testUser, oauth.NewInvalidAccessTokenError("expired"), NewRecoveryContext("c"))
	assert.Equal(t, StrategyReauthenticate, res.Strategy)
	assert.True(t, res.RequiresUserAction)
	assert.Equal(t, "/auth/provider", res.RedirectURL)

	assert.Contains(t, f.audit.kinds(), model.AuditRecoveryEscalated)
	assert.Contains(t, f.audit.last(model.AuditTokensInvalidated)["original_error"], "invalid_access_token")
	assert.Zero(t, f.refresher.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.EscalationsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RecoveriesTotal.WithLabelValues(StrategyReauthenticate, string(oauth.KindInvalidAccessToken))))
}

func TestRecoveryDispatcher_NoTokenEscalatesToReauth(t *testing.T) {
	f := newDispatcherFixture(t)

	res := f.dispatcher.Recover(context.Background(), testUser, oauth.NewInvalidAccessTokenError(""), NewRecoveryContext("c"))
	assert.Equal(t, StrategyReauthenticate, res.Strategy)
	assert.True(t, res.RequiresUserAction)
}

func TestRecoveryDispatcher_RefusedRefreshEscalatesToReauth(t *testing.T) {
	f := newDispatcherFixture(t)
	f.refresher.ok = false
	f.token(testUser.ID, -time.Minute)

	res := f.dispatcher.Recover(context.Background(), testUser, oauth.NewInvalidAccessTokenError(""), NewRecoveryContext("c"))
	assert.Equal(t, StrategyReauthenticate, res.Strategy)
	assert.Equal(t, 1, f.refresher.Calls())
}

func TestRecoveryDispatcher_RefreshErrorEscalatesToReauth(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"network", oauth.NewNetworkError(errors.New("timeout"))},
		{"server", oauth.NewServerError(http.StatusBadGateway, "bad gateway")},
		{"rate limit", oauth.NewRateLimitError(nil, nil)},
		{"plain", errors.New("decrypt failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(t)
			f.refresher.err = tt.err
			f.token(testUser.ID, -time.Minute)

			res := f.dispatcher.Recover(context.Background(), testUser, oauth.NewInvalidAccessTokenError(""), NewRecoveryContext("c"))
			assert.Equal(t, StrategyReauthenticate, res.Strategy)
			assert.Equal(t, "/auth/provider", res.RedirectURL)
			assert.True(t, res.RequiresUserAction)
			assert.False(t, res.CanRetry)
			assert.Equal(t, 1, f.refresher.Calls())
		})
	}
}

func TestRecoveryDispatcher_EscalationBounded(t *testing.T) {
	looping := &stubStrategy{
		name:  "loop",
		kinds: []oauth.ErrorKind{oauth.KindNetwork},
		exec: func(err error) (*RecoveryResult, error) {
			return escalate(err)
		},
	}
	fallback := &stubStrategy{
		name: StrategyDefault,
		exec: func(error) (*RecoveryResult, error) {
			return &RecoveryResult{Strategy: StrategyDefault, ActionTaken: "notified"}, nil
		},
	}
	audit := &mockAudit{}
	d := newRecoveryDispatcher(fallback, []RecoveryStrategy{looping}, audit, nil, testLogger())

	res := d.Recover(context.Background(), testUser, oauth.NewNetworkError(errors.New("x")), NewRecoveryContext("c"))
	require.NotNil(t, res)
	assert.Equal(t, StrategyDefault, res.Strategy)
	assert.Equal(t, maxEscalations+1, looping.calls)
	assert.Equal(t, 1, fallback.calls)
	assert.Contains(t, audit.kinds(), model.AuditRecoveryFailed)
}

func TestRecoveryDispatcher_FailingStrategyFallsBack(t *testing.T) {
	failing := &stubStrategy{
		name:  "broken",
		kinds: []oauth.ErrorKind{oauth.KindRateLimit},
		exec: func(error) (*RecoveryResult, error) {
			return nil, errors.New("cache unavailable")
		},
	}
	fallback := &stubStrategy{
		name: StrategyDefault,
		exec: func(error) (*RecoveryResult, error) {
			return &RecoveryResult{Strategy: StrategyDefault, ActionTaken: "notified"}, nil
		},
	}
	audit := &mockAudit{}
	d := newRecoveryDispatcher(fallback, []RecoveryStrategy{failing}, audit, nil, testLogger())

	res := d.Recover(context.Background(), testUser, oauth.NewRateLimitError(nil, nil), NewRecoveryContext("c"))
	assert.Equal(t, StrategyDefault, res.Strategy)
	assert.Equal(t, "notified", res.ActionTaken)
	assert.Equal(t, "cache unavailable", audit.last(model.AuditRecoveryFailed)["error"])
}

func TestRecoveryDispatcher_NeverNil(t *testing.T) {
	broken := &stubStrategy{
		name: StrategyDefault,
		exec: func(error) (*RecoveryResult, error) {
			return nil, errors.New("notifications down")
		},
	}
	d := newRecoveryDispatcher(broken, nil, &mockAudit{}, nil, testLogger())

	res := d.Recover(context.Background(), nil, errors.New("x"), nil)
	require.NotNil(t, res)
	assert.Equal(t, StrategyDefault, res.Strategy)
	assert.Equal(t, "none", res.ActionTaken)
	assert.NotEmpty(t, res.Message)
}

func TestResolveKind(t *testing.T) {
	assert.Equal(t, oauth.KindUnknown, resolveKind(nil))
	assert.Equal(t, oauth.KindScope, resolveKind(oauth.NewScopeError("")))
	assert.Equal(t, oauth.KindInvalidRefreshToken, resolveKind(&oauth.Error{Kind: oauth.KindNetwork, RequiresReauth: true}))
	assert.Equal(t, oauth.KindNetwork, resolveKind(oauth.NewNetworkError(nil)))
}

func TestRecoveryDispatcher_MetricsWithoutRecorder(t *testing.T) {
	fallback := NewDefaultStrategy(&mockNotifier{}, &mockAudit{}, testLogger())
	d := newRecoveryDispatcher(fallback, nil, &mockAudit{}, nil, testLogger())
	assert.NotNil(t, d.Recover(context.Background(), testUser, errors.New("x"), nil))

	m := metrics.New(prometheus.NewRegistry())
	d = newRecoveryDispatcher(fallback, nil, &mockAudit{}, m, testLogger())
	d.Recover(context.Background(), testUser, errors.New("x"), nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecoveriesTotal.WithLabelValues(StrategyDefault, string(oauth.KindUnknown))))
}
