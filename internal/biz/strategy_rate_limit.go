package biz

import (
	"context"
	"fmt"
	"time"

	"OAuthGuard/internal/conf"
	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/log"
	"OAuthGuard/pkg/oauth"

	klog "github.com/go-kratos/kratos/v2/log"
)

const (
	// DefaultRateLimitDelay 没有 Retry-After / reset 时间时的默认等待
	DefaultRateLimitDelay = 60 * time.Second

	defaultProvider = "provider"
)

// RateLimitStrategy 限流：通知用户、缓存限流状态，始终允许稍后重试
type RateLimitStrategy struct {
	cache    RateLimitCache
	notifier NotificationService
	audit    AuditLogger
	provider string
	now      func() time.Time
	logger   *log.LogHelper
}

// NewRateLimitStrategy creates the rate limit strategy.
func NewRateLimitStrategy(cache RateLimitCache, notifier NotificationService, audit AuditLogger, c *conf.OAuth, logger klog.Logger) *RateLimitStrategy {
	return &RateLimitStrategy{
		cache:    cache,
		notifier: notifier,
		audit:    audit,
		provider: providerName(c),
		now:      time.Now,
		logger:   log.NewLogHelper(logger),
	}
}

func providerName(c *conf.OAuth) string {
	if c == nil || c.Provider == "" {
		return defaultProvider
	}
	return c.Provider
}

// Name implements RecoveryStrategy.
func (s *RateLimitStrategy) Name() string { return StrategyRateLimit }

// CanHandle implements RecoveryStrategy.
func (s *RateLimitStrategy) CanHandle(kind oauth.ErrorKind) bool {
	return kind == oauth.KindRateLimit
}

// rateLimitDelay 优先级：Retry-After > 未来的 reset 时间 > 60s
func rateLimitDelay(err error, now time.Time) time.Duration {
	oe, ok := oauth.AsError(err)
	if !ok {
		return DefaultRateLimitDelay
	}
	if oe.RetryAfter != nil && *oe.RetryAfter > 0 {
		return *oe.RetryAfter
	}
	if oe.ResetTime != nil {
		if d := oe.ResetTime.Sub(now); d > 0 {
			return d
		}
	}
	return DefaultRateLimitDelay
}

// humanizeDuration 面向用户的时长，例如 "45 seconds" / "2 minutes" / "1 hour 5 minutes"
func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		secs := int((d + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		return plural(secs, "second")
	}
	// 向上取整到分钟
	mins := int((d + time.Minute - 1) / time.Minute)
	if mins < 60 {
		return plural(mins, "minute")
	}
	hours, rest := mins/60, mins%60
	if rest == 0 {
		return plural(hours, "hour")
	}
	return plural(hours, "hour") + " " + plural(rest, "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Execute implements RecoveryStrategy.
func (s *RateLimitStrategy) Execute(ctx context.Context, user *User, err error, rc *RecoveryContext) (*RecoveryResult, error) {
	delay := rateLimitDelay(err, s.now())
	human := humanizeDuration(delay)

	n := &model.UserNotification{
		UserID:           user.ID,
		Kind:             "rate_limited",
		Title:            "Too many requests",
		Message:          fmt.Sprintf("The provider is limiting requests. Please try again in %s.", human),
		Priority:         model.PriorityNormal,
		Dismissible:      true,
		AutoDismissAfter: delay,
	}
	notified := true
	if nerr := s.notifier.NotifyUser(ctx, n); nerr != nil {
		s.logger.Warnw("msg", "failed to notify user", "user_id", user.ID, "error", nerr)
		notified = false
	}

	// 缓存失败不影响结果，本进程内的前置缓存仍然生效
	if cerr := s.cache.MarkRateLimited(ctx, user.ID, s.provider, delay); cerr != nil {
		s.logger.Warnw("msg", "failed to cache rate limit state", "user_id", user.ID, "provider", s.provider, "error", cerr)
	}

	s.logger.RateLimit("provider rate limit encountered",
		"user_id", user.ID,
		"provider", s.provider,
		"retry_delay", delay,
		"endpoint", rc.EndpointPath)

	s.audit.LogEvent(ctx, model.AuditRateLimited, model.AuditPayload{
		"user_id":             user.ID,
		"error_kind":          string(oauth.KindRateLimit),
		"correlation_id":      rc.CorrelationID,
		"provider":            s.provider,
		"endpoint":            rc.EndpointPath,
		"retry_delay_seconds": delay.Seconds(),
	})

	return &RecoveryResult{
		Strategy:     StrategyRateLimit,
		ActionTaken:  "rate_limit_cached",
		CanRetry:     true,
		RetryDelay:   durationPtr(delay),
		UserNotified: notified,
		Title:        n.Title,
		Message:      n.Message,
	}, nil
}
