package biz

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/log"
	"OAuthGuard/pkg/oauth"

	klog "github.com/go-kratos/kratos/v2/log"
)

const (
	maxNetworkAttempts = 3
	maxRetryDelay      = 300 * time.Second
)

// NetworkRetryStrategy 网络错误与 5xx：指数退避 + 抖动，最多 3 次
type NetworkRetryStrategy struct {
	notifier NotificationService
	jitter   func() float64
	logger   *log.LogHelper
}

// NewNetworkRetryStrategy creates the network retry strategy.
func NewNetworkRetryStrategy(notifier NotificationService, logger klog.Logger) *NetworkRetryStrategy {
	return &NetworkRetryStrategy{
		notifier: notifier,
		jitter:   func() float64 { return 0.5 + rand.Float64() },
		logger:   log.NewLogHelper(logger),
	}
}

// Name implements RecoveryStrategy.
func (s *NetworkRetryStrategy) Name() string { return StrategyNetworkRetry }

// CanHandle implements RecoveryStrategy.
func (s *NetworkRetryStrategy) CanHandle(kind oauth.ErrorKind) bool {
	return kind == oauth.KindNetwork || kind == oauth.KindServer
}

// networkRetryDelay min(2^attempt * jitter, 300s)
func networkRetryDelay(attempt int, jitter float64) time.Duration {
	seconds := math.Pow(2, float64(attempt)) * jitter
	d := time.Duration(seconds * float64(time.Second))
	if d > maxRetryDelay || d < 0 {
		return maxRetryDelay
	}
	return d
}

// Execute implements RecoveryStrategy.
// 重试延迟只是建议，这里不会 sleep
func (s *NetworkRetryStrategy) Execute(ctx context.Context, user *User, err error, rc *RecoveryContext) (*RecoveryResult, error) {
	attempt := rc.Attempt()

	if attempt < maxNetworkAttempts {
		delay := networkRetryDelay(attempt, s.jitter())
		s.logger.Recovery(ctx, "scheduling retry after network failure",
			"user_id", user.ID,
			"attempt", attempt,
			"retry_delay", delay,
			"error", err)
		return &RecoveryResult{
			Strategy:    StrategyNetworkRetry,
			ActionTaken: "retry_scheduled",
			CanRetry:    true,
			RetryDelay:  durationPtr(delay),
			Title:       "Temporary connection issue",
			Message:     "We could not reach the provider. Retrying shortly.",
		}, nil
	}

	n := &model.UserNotification{
		UserID:      user.ID,
		Kind:        "connection_problem",
		Title:       "Connection problem",
		Message:     "We are having trouble connecting to the provider. Please try again later.",
		Priority:    model.PriorityNormal,
		Dismissible: true,
	}
	notified := true
	if nerr := s.notifier.NotifyUser(ctx, n); nerr != nil {
		s.logger.Warnw("msg", "failed to notify user", "user_id", user.ID, "error", nerr)
		notified = false
	}

	s.logger.Recovery(ctx, "network retries exhausted", "user_id", user.ID, "attempt", attempt, "error", err)
	return &RecoveryResult{
		Strategy:     StrategyNetworkRetry,
		ActionTaken:  "retries_exhausted",
		CanRetry:     false,
		UserNotified: notified,
		Title:        n.Title,
		Message:      n.Message,
	}, nil
}
