// Package metrics 提供熔断、恢复、Token 刷新的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder 指标记录接口，biz 层只依赖该接口
type Recorder interface {
	CircuitOpened(operation string)
	CircuitReset(operation string)
	CircuitRejected(operation string)
	RecoveryExecuted(strategy, errorKind string, escalations int)
	TokenRefresh(result string, duration time.Duration)
	RefreshEnqueued(count int)
	RefreshDropped()
	RateLimitShortCircuit()
}

var _ Recorder = (*Metrics)(nil)

// Metrics Prometheus 实现
type Metrics struct {
	CircuitTransitionsTotal *prometheus.CounterVec
	CircuitRejectedTotal    *prometheus.CounterVec
	CircuitOpen             *prometheus.GaugeVec

	RecoveriesTotal  *prometheus.CounterVec
	EscalationsTotal prometheus.Counter

	TokenRefreshTotal    *prometheus.CounterVec
	TokenRefreshDuration prometheus.Histogram
	RefreshEnqueuedTotal prometheus.Counter
	RefreshDroppedTotal  prometheus.Counter

	RateLimitShortCircuitTotal prometheus.Counter
}

// New 在 reg 上注册全部指标
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CircuitTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthguard_circuit_transitions_total",
				Help: "Circuit state transitions by operation",
			},
			[]string{"operation", "state"}, // open, reset
		),
		CircuitRejectedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthguard_circuit_rejected_total",
				Help: "Calls refused because the circuit was open",
			},
			[]string{"operation"},
		),
		CircuitOpen: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oauthguard_circuit_open",
				Help: "1 if the circuit for the operation is open",
			},
			[]string{"operation"},
		),
		RecoveriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthguard_recoveries_total",
				Help: "Recoveries by final strategy and originating error kind",
			},
			[]string{"strategy", "error_kind"},
		),
		EscalationsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "oauthguard_recovery_escalations_total",
				Help: "Strategy escalations re-dispatched by the recovery dispatcher",
			},
		),
		TokenRefreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthguard_token_refresh_total",
				Help: "Token refresh attempts by result",
			},
			[]string{"result"}, // success, refused, skipped, error
		),
		TokenRefreshDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oauthguard_token_refresh_duration_seconds",
				Help:    "Token refresh latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		RefreshEnqueuedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "oauthguard_refresh_enqueued_total",
				Help: "Refresh tasks enqueued by the expiring refresh check",
			},
		),
		RefreshDroppedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "oauthguard_refresh_dropped_total",
				Help: "Refresh tasks dropped because the queue was full",
			},
		),
		RateLimitShortCircuitTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "oauthguard_rate_limit_short_circuit_total",
				Help: "Calls short-circuited by cached rate-limit state",
			},
		),
	}
}

// CircuitOpened records a closed to open transition.
func (m *Metrics) CircuitOpened(operation string) {
	m.CircuitTransitionsTotal.WithLabelValues(operation, "open").Inc()
	m.CircuitOpen.WithLabelValues(operation).Set(1)
}

// CircuitReset records a reset after success or timeout.
func (m *Metrics) CircuitReset(operation string) {
	m.CircuitTransitionsTotal.WithLabelValues(operation, "reset").Inc()
	m.CircuitOpen.WithLabelValues(operation).Set(0)
}

// CircuitRejected records a call refused while open.
func (m *Metrics) CircuitRejected(operation string) {
	m.CircuitRejectedTotal.WithLabelValues(operation).Inc()
}

// RecoveryExecuted records one dispatcher run.
func (m *Metrics) RecoveryExecuted(strategy, errorKind string, escalations int) {
	m.RecoveriesTotal.WithLabelValues(strategy, errorKind).Inc()
	if escalations > 0 {
		m.EscalationsTotal.Add(float64(escalations))
	}
}

// TokenRefresh records one refresh attempt.
func (m *Metrics) TokenRefresh(result string, duration time.Duration) {
	m.TokenRefreshTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		m.TokenRefreshDuration.Observe(duration.Seconds())
	}
}

// RefreshEnqueued records tasks pushed by a scheduled check.
func (m *Metrics) RefreshEnqueued(count int) {
	m.RefreshEnqueuedTotal.Add(float64(count))
}

// RefreshDropped records a task dropped on a full queue.
func (m *Metrics) RefreshDropped() {
	m.RefreshDroppedTotal.Inc()
}

// RateLimitShortCircuit records a call answered from cached rate-limit state.
func (m *Metrics) RateLimitShortCircuit() {
	m.RateLimitShortCircuitTotal.Inc()
}

// NoopMetrics 不记录任何指标（测试或关闭指标时使用）
type NoopMetrics struct{}

var _ Recorder = NoopMetrics{}

// NewNoop returns a Recorder that does nothing.
func NewNoop() Recorder { return NoopMetrics{} }

func (NoopMetrics) CircuitOpened(string)                 {}
func (NoopMetrics) CircuitReset(string)                  {}
func (NoopMetrics) CircuitRejected(string)               {}
func (NoopMetrics) RecoveryExecuted(string, string, int) {}
func (NoopMetrics) TokenRefresh(string, time.Duration)   {}
func (NoopMetrics) RefreshEnqueued(int)                  {}
func (NoopMetrics) RefreshDropped()                      {}
func (NoopMetrics) RateLimitShortCircuit()               {}
