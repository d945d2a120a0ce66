package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.CircuitOpened("op")
	m.RecoveryExecuted("default", "unknown_error", 0)
	m.TokenRefresh("success", time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCircuitMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CircuitOpened("oauth.token_refresh")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitOpen.WithLabelValues("oauth.token_refresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitTransitionsTotal.WithLabelValues("oauth.token_refresh", "open")))

	m.CircuitRejected("oauth.token_refresh")
	m.CircuitRejected("oauth.token_refresh")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitRejectedTotal.WithLabelValues("oauth.token_refresh")))

	m.CircuitReset("oauth.token_refresh")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitOpen.WithLabelValues("oauth.token_refresh")))
}

func TestRecoveryMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecoveryExecuted("reauthentication", "invalid_access_token", 1)
	m.RecoveryExecuted("network_retry", "network_error", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecoveriesTotal.WithLabelValues("reauthentication", "invalid_access_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EscalationsTotal))
}

func TestRefreshMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TokenRefresh("skipped", 0)
	m.RefreshEnqueued(3)
	m.RefreshDropped()
	m.RateLimitShortCircuit()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshTotal.WithLabelValues("skipped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RefreshEnqueuedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshDroppedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitShortCircuitTotal))
}

func TestNoop(t *testing.T) {
	m := NewNoop()
	m.CircuitOpened("x")
	m.RecoveryExecuted("default", "unknown_error", 2)
	m.TokenRefresh("success", time.Second)
	_, ok := m.(NoopMetrics)
	assert.True(t, ok)
}
