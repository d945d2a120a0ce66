package biz

import (
	"context"
	"time"

	"OAuthGuard/internal/conf"
	"OAuthGuard/pkg/log"
	"OAuthGuard/pkg/metrics"
	"OAuthGuard/pkg/oauth"

	klog "github.com/go-kratos/kratos/v2/log"
)

// GuardedCaller 对外调用的统一入口：限流短路 → 熔断保护 → 失败时分发恢复
// 供嵌入本包的调用方包装自己的 Provider 请求，HTTP 服务不经过它
type GuardedCaller struct {
	breaker    *CircuitBreaker
	dispatcher *RecoveryDispatcher
	cache      RateLimitCache
	provider   string
	metrics    metrics.Recorder
	now        func() time.Time
	logger     *log.LogHelper
}

// NewGuardedCaller creates a guarded caller.
func NewGuardedCaller(breaker *CircuitBreaker, dispatcher *RecoveryDispatcher, cache RateLimitCache, c *conf.OAuth, m metrics.Recorder, logger klog.Logger) *GuardedCaller {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &GuardedCaller{
		breaker:    breaker,
		dispatcher: dispatcher,
		cache:      cache,
		provider:   providerName(c),
		metrics:    m,
		now:        time.Now,
		logger:     log.NewLogHelper(logger),
	}
}

// Call 执行受保护调用
// 仍处于限流期时不调用 Provider，直接返回 rate_limit_error；
// 熔断打开时返回 *CircuitOpenError，不做恢复；
// 其他失败只分发一次，结果与原始错误一起返回
func (g *GuardedCaller) Call(ctx context.Context, user *User, operation string, rc *RecoveryContext, call GuardedFunc) (any, *RecoveryResult, error) {
	state, err := g.cache.RateLimited(ctx, user.ID, g.provider)
	if err != nil {
		g.logger.Warnw("msg", "rate limit check failed, calling provider", "user_id", user.ID, "error", err)
	}
	if state != nil {
		retryAfter := state.RetryAfter(g.now())
		until := state.Until
		g.metrics.RateLimitShortCircuit()
		g.logger.RateLimit("call short-circuited by cached rate limit",
			"user_id", user.ID,
			"operation", operation,
			"retry_after", retryAfter)
		return nil, &RecoveryResult{
			Strategy:    StrategyRateLimit,
			ActionTaken: "short_circuited",
			CanRetry:    true,
			RetryDelay:  durationPtr(retryAfter),
			Title:       "Too many requests",
			Message:     "The provider is limiting requests. Please try again in " + humanizeDuration(retryAfter) + ".",
		}, oauth.NewRateLimitError(&retryAfter, &until)
	}

	result, err := g.breaker.Guard(ctx, operation, call)
	if err == nil {
		return result, nil, nil
	}
	if IsCircuitOpen(err) {
		return nil, nil, err
	}

	return nil, g.dispatcher.Recover(ctx, user, err, rc), err
}
