package biz

import (
	"context"
	"errors"

	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/log"
	"OAuthGuard/pkg/metrics"
	"OAuthGuard/pkg/oauth"

	klog "github.com/go-kratos/kratos/v2/log"
)

// maxEscalations 单次失败最多重新分发的次数
const maxEscalations = 3

// RecoveryDispatcher 按固定顺序选择第一个能处理该错误类别的策略
// 兜底策略在构造时追加到末尾，保证所有错误都会被处理
type RecoveryDispatcher struct {
	strategies []RecoveryStrategy
	fallback   RecoveryStrategy
	audit      AuditLogger
	metrics    metrics.Recorder
	logger     *log.LogHelper
}

// NewRecoveryDispatcher creates the dispatcher with the fixed priority order:
// network retry, rate limit, reauthentication, token refresh, default.
func NewRecoveryDispatcher(
	network *NetworkRetryStrategy,
	rateLimit *RateLimitStrategy,
	reauth *ReauthenticationStrategy,
	refresh *TokenRefreshStrategy,
	fallback *DefaultStrategy,
	audit AuditLogger,
	m metrics.Recorder,
	logger klog.Logger,
) *RecoveryDispatcher {
	return newRecoveryDispatcher(fallback, []RecoveryStrategy{network, rateLimit, reauth, refresh}, audit, m, logger)
}

func newRecoveryDispatcher(fallback RecoveryStrategy, ordered []RecoveryStrategy, audit AuditLogger, m metrics.Recorder, logger klog.Logger) *RecoveryDispatcher {
	if m == nil {
		m = metrics.NewNoop()
	}
	strategies := make([]RecoveryStrategy, 0, len(ordered)+1)
	strategies = append(strategies, ordered...)
	strategies = append(strategies, fallback)

	return &RecoveryDispatcher{
		strategies: strategies,
		fallback:   fallback,
		audit:      audit,
		metrics:    m,
		logger:     log.NewLogHelper(logger),
	}
}

// resolveKind 策略选择只依赖错误类别
// 被标记为需要重新授权、但类别不属于重新授权的错误按 invalid_refresh_token 处理
func resolveKind(err error) oauth.ErrorKind {
	kind := oauth.KindOf(err)
	if kind == "" {
		return oauth.KindUnknown
	}
	if oauth.RequiresReauth(err) {
		switch kind {
		case oauth.KindAccessRevoked, oauth.KindInvalidRefreshToken, oauth.KindScope:
		default:
			return oauth.KindInvalidRefreshToken
		}
	}
	return kind
}

func (d *RecoveryDispatcher) selectStrategy(kind oauth.ErrorKind) RecoveryStrategy {
	for _, s := range d.strategies {
		if s.CanHandle(kind) {
			return s
		}
	}
	return d.fallback
}

// Recover 处理一次失败，始终返回非 nil 结果
// 策略返回 *EscalationError 时用新错误重新选择策略（最多 3 次）；
// 策略执行出错时交给兜底策略
func (d *RecoveryDispatcher) Recover(ctx context.Context, user *User, err error, rc *RecoveryContext) *RecoveryResult {
	if rc == nil {
		rc = NewRecoveryContext(log.CorrelationID(ctx))
	}
	if rc.CorrelationID == "" {
		rc.CorrelationID = log.CorrelationID(ctx)
	}
	if user == nil {
		user = &User{}
	}

	originalKind := resolveKind(err)
	current := err
	escalations := 0

	for {
		kind := resolveKind(current)
		strategy := d.selectStrategy(kind)

		d.audit.LogEvent(ctx, model.AuditRecoveryAttempt, model.AuditPayload{
			"user_id":        user.ID,
			"error_kind":     string(kind),
			"correlation_id": rc.CorrelationID,
			"strategy":       strategy.Name(),
			"attempt":        rc.Attempt(),
			"escalations":    escalations,
			"endpoint":       rc.EndpointPath,
		})

		result, xerr := strategy.Execute(ctx, user, current, rc)
		if xerr == nil && result != nil {
			d.metrics.RecoveryExecuted(result.Strategy, string(originalKind), escalations)
			d.logger.Recovery(ctx, "recovery executed",
				"user_id", user.ID,
				"error_kind", originalKind,
				"strategy", result.Strategy,
				"action", result.ActionTaken,
				"can_retry", result.CanRetry,
				"escalations", escalations)
			return result
		}

		var esc *EscalationError
		if errors.As(xerr, &esc) && escalations < maxEscalations {
			escalations++
			d.audit.LogEvent(ctx, model.AuditRecoveryEscalated, model.AuditPayload{
				"user_id":        user.ID,
				"error_kind":     string(kind),
				"correlation_id": rc.CorrelationID,
				"strategy":       strategy.Name(),
				"escalated_to":   string(resolveKind(esc.Err)),
			})
			current = esc.Err
			continue
		}
		if esc != nil {
			current = esc.Err
		}

		d.audit.LogEvent(ctx, model.AuditRecoveryFailed, model.AuditPayload{
			"user_id":        user.ID,
			"error_kind":     string(kind),
			"correlation_id": rc.CorrelationID,
			"strategy":       strategy.Name(),
			"error":          errorText(xerr),
		})
		d.logger.Errorw("msg", "recovery strategy failed, falling back to default",
			"user_id", user.ID,
			"strategy", strategy.Name(),
			"error", xerr)

		return d.runFallback(ctx, user, current, rc, strategy, originalKind, escalations)
	}
}

func (d *RecoveryDispatcher) runFallback(ctx context.Context, user *User, err error, rc *RecoveryContext, failed RecoveryStrategy, originalKind oauth.ErrorKind, escalations int) *RecoveryResult {
	if failed != d.fallback {
		if result, ferr := d.fallback.Execute(ctx, user, err, rc); ferr == nil && result != nil {
			d.metrics.RecoveryExecuted(result.Strategy, string(originalKind), escalations)
			return result
		}
	}

	d.metrics.RecoveryExecuted(StrategyDefault, string(originalKind), escalations)
	return &RecoveryResult{
		Strategy:    StrategyDefault,
		ActionTaken: "none",
		Title:       unknownMessage.title,
		Message:     unknownMessage.message,
	}
}
