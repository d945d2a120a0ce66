package biz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"OAuthGuard/internal/conf"
	"OAuthGuard/internal/data"
	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/log"
	"OAuthGuard/pkg/metrics"

	klog "github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultLookahead needs-refresh 窗口
	DefaultLookahead = 5 * time.Minute
	// DefaultRefreshBuffer 定时检查覆盖的过期缓冲
	DefaultRefreshBuffer = 30 * time.Minute
	// DefaultRefreshTimeout 单次刷新的超时
	DefaultRefreshTimeout = 20 * time.Second
)

// refresh results recorded in metrics
const (
	refreshResultSuccess = "success"
	refreshResultRefused = "refused"
	refreshResultError   = "error"
	refreshResultSkipped = "skipped"
)

// TokenLifecycle Token 过期判断与刷新调度
// 同一用户的刷新串行执行（进程内互斥 + 数据层版本号乐观锁），
// 执行时重新检查是否仍需刷新，避免对已刷新的 Token 重复刷新
type TokenLifecycle struct {
	tokens    TokenRepo
	refresher TokenRefresher
	breaker   *CircuitBreaker
	queue     *RefreshQueue
	audit     AuditLogger
	metrics   metrics.Recorder

	locks *keyedMutex
	group singleflight.Group

	lookahead      time.Duration
	buffer         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *log.LogHelper
}

// NewTokenLifecycle creates the token lifecycle manager and its refresh queue.
func NewTokenLifecycle(
	c *conf.Lifecycle,
	tokens TokenRepo,
	refresher TokenRefresher,
	breaker *CircuitBreaker,
	audit AuditLogger,
	m metrics.Recorder,
	logger klog.Logger,
) *TokenLifecycle {
	if c == nil {
		c = &conf.Lifecycle{}
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &TokenLifecycle{
		tokens:         tokens,
		refresher:      refresher,
		breaker:        breaker,
		queue:          NewRefreshQueue(int(c.QueueSize), int(c.Workers), m, logger),
		audit:          audit,
		metrics:        m,
		locks:          newKeyedMutex(),
		lookahead:      conf.AsDuration(c.Lookahead, DefaultLookahead),
		buffer:         conf.AsDuration(c.Buffer, DefaultRefreshBuffer),
		refreshTimeout: conf.AsDuration(c.RefreshTimeout, DefaultRefreshTimeout),
		now:            time.Now,
		logger:         log.NewLogHelper(logger),
	}
}

// NeedsRefresh 距离过期不超过 lookahead，且未作废、未解绑
func (l *TokenLifecycle) NeedsRefresh(token *data.OAuthToken) bool {
	if token == nil || token.Invalidated() || token.Unlinked() {
		return false
	}
	return token.ExpiresAt.Sub(l.now()) <= l.lookahead
}

// Expired 是否已过期
func (l *TokenLifecycle) Expired(token *data.OAuthToken) bool {
	return token == nil || !token.ExpiresAt.After(l.now())
}

// EnqueueExpiringRefreshes 选出 now < expires_at <= now+buffer 的 Token，每个用户排一个刷新任务
// 返回被选中的用户集合
func (l *TokenLifecycle) EnqueueExpiringRefreshes(ctx context.Context, buffer time.Duration) (map[int64]struct{}, error) {
	if buffer <= 0 {
		buffer = l.buffer
	}
	now := l.now()
	until := now.Add(buffer)

	tokens, err := l.tokens.ListExpiring(ctx, now, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring tokens: %w", err)
	}

	users := make(map[int64]struct{})
	dropped := 0
	for _, t := range tokens {
		if !t.ExpiresAt.After(now) || t.ExpiresAt.After(until) || t.Invalidated() {
			continue
		}
		if _, ok := users[t.UserID]; ok {
			continue
		}
		users[t.UserID] = struct{}{}
		if !l.queue.Enqueue(t.UserID) {
			dropped++
		}
	}

	l.metrics.RefreshEnqueued(len(users) - dropped)
	l.logger.Scheduler("expiring token refreshes enqueued",
		"token_count", len(tokens),
		"users", len(users),
		"dropped", dropped,
		"buffer", buffer)
	return users, nil
}

// ScheduleExpiringRefreshCheck 定时任务入口，bufferMinutes <= 0 时使用配置的缓冲
func (l *TokenLifecycle) ScheduleExpiringRefreshCheck(ctx context.Context, bufferMinutes int) (map[int64]struct{}, error) {
	return l.EnqueueExpiringRefreshes(ctx, time.Duration(bufferMinutes)*time.Minute)
}

// Start 启动刷新队列 worker
func (l *TokenLifecycle) Start(ctx context.Context) {
	l.queue.Start(ctx, func(ctx context.Context, userID int64) {
		if _, err := l.RefreshUser(ctx, userID); err != nil {
			l.logger.Errorw("msg", "scheduled token refresh failed", "user_id", userID, "error", err)
		}
	})
}

// Stop 停止刷新队列
func (l *TokenLifecycle) Stop() {
	l.queue.Stop()
}

// RefreshUser 定时刷新任务：执行时重新读取 Token 并检查是否仍需刷新
// Token 已刷新、已作废或已解绑时直接返回 (false, nil)
func (l *TokenLifecycle) RefreshUser(ctx context.Context, userID int64) (bool, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	token, err := l.tokens.MostRecent(ctx, userID)
	if err != nil {
		if errors.Is(err, data.ErrTokenNotFound) {
			l.logger.Token("no token to refresh, integration unlinked", "user_id", userID)
			return false, nil
		}
		return false, err
	}
	if !l.NeedsRefresh(token) {
		l.metrics.TokenRefresh(refreshResultSkipped, 0)
		l.logger.Token("token no longer needs refresh, skipping",
			"user_id", userID,
			"token_id", token.ID,
			"token_expires_at", token.ExpiresAt)
		return false, nil
	}
	return l.refresh(ctx, token)
}

// RefreshNow 请求路径上的刷新（access token 被拒绝后）
// 同一用户的并发调用合并为一次；observed 之后已被其他路径刷新的 Token 不再重复刷新
func (l *TokenLifecycle) RefreshNow(ctx context.Context, observed *data.OAuthToken) (bool, error) {
	// 合并后的调用不受单个请求取消的影响
	shared := context.WithoutCancel(ctx)

	v, err, _ := l.group.Do(strconv.FormatInt(observed.UserID, 10), func() (interface{}, error) {
		unlock := l.locks.Lock(observed.UserID)
		defer unlock()

		current, err := l.tokens.MostRecent(shared, observed.UserID)
		if err != nil {
			return false, err
		}
		if current.ID == observed.ID && current.Version > observed.Version && !current.Invalidated() {
			l.logger.Token("token already refreshed by another path", "user_id", observed.UserID, "token_id", current.ID)
			return true, nil
		}
		return l.refresh(shared, current)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// refresh 在熔断保护和超时下调用 Provider
func (l *TokenLifecycle) refresh(ctx context.Context, token *data.OAuthToken) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.refreshTimeout)
	defer cancel()

	start := time.Now()
	v, err := l.breaker.Guard(ctx, OperationTokenRefresh, func(ctx context.Context) (any, error) {
		return l.refresher.Refresh(ctx, token)
	})
	elapsed := time.Since(start)

	ok, _ := v.(bool)
	payload := model.AuditPayload{
		"user_id":     token.UserID,
		"token_id":    token.ID,
		"duration_ms": elapsed.Milliseconds(),
	}

	switch {
	case err != nil:
		l.metrics.TokenRefresh(refreshResultError, elapsed)
		payload["error"] = err.Error()
		l.audit.LogEvent(ctx, model.AuditTokenRefreshFail, payload)
		return false, fmt.Errorf("failed to refresh token: %w", err)
	case !ok:
		l.metrics.TokenRefresh(refreshResultRefused, elapsed)
		payload["reason"] = "refused"
		l.audit.LogEvent(ctx, model.AuditTokenRefreshFail, payload)
		return false, nil
	}

	l.metrics.TokenRefresh(refreshResultSuccess, elapsed)
	l.audit.LogEvent(ctx, model.AuditTokenRefreshed, payload)
	l.logger.Token("token refreshed", "user_id", token.UserID, "token_id", token.ID, "duration_ms", elapsed.Milliseconds())
	return true, nil
}
