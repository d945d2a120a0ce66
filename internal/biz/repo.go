package biz

import (
	"context"
	"time"

	"OAuthGuard/internal/data"
	"OAuthGuard/internal/model"
)

// User 触发恢复的用户（应用侧账户，核心只关心 ID）
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// TokenRepo defines the token persistence operations the core relies on.
// Following Kratos v2 DDD architecture, interfaces are defined in biz layer.
// Implementation is in data layer (data.TokenRepo).
type TokenRepo interface {
	Get(ctx context.Context, id int64) (*data.OAuthToken, error)
	// MostRecent returns data.ErrTokenNotFound when the user has no token.
	MostRecent(ctx context.Context, userID int64) (*data.OAuthToken, error)
	// InvalidateAll forces expires_at to at on every token of the user and returns the count.
	InvalidateAll(ctx context.Context, userID int64, at time.Time) (int64, error)
	// ListExpiring returns tokens with from < expires_at <= to.
	ListExpiring(ctx context.Context, from, to time.Time) ([]*data.OAuthToken, error)
}

// TokenRefresher refreshes a token against the provider.
// (false, nil) means the provider refused the grant; an error means the attempt itself failed.
type TokenRefresher interface {
	Refresh(ctx context.Context, token *data.OAuthToken) (bool, error)
}

// AuditLogger defines the interface for audit logging
type AuditLogger interface {
	// LogEvent records a structured audit event; must not block the caller.
	LogEvent(ctx context.Context, kind model.AuditEventKind, payload model.AuditPayload)
}

// NotificationService 用户 / 管理员通知
type NotificationService interface {
	NotifyUser(ctx context.Context, n *model.UserNotification) error
	NotifyAdmin(ctx context.Context, n *model.AdminNotification) error
	ListUser(ctx context.Context, userID int64, limit int) ([]*model.UserNotification, error)
	Dismiss(ctx context.Context, userID int64, id string) error
	ListAdmin(ctx context.Context, limit int) ([]*model.AdminNotification, error)
}

// RateLimitCache 限流状态缓存，key 为 rate_limit:{userID}:{provider}
type RateLimitCache interface {
	MarkRateLimited(ctx context.Context, userID int64, provider string, ttl time.Duration) error
	// RateLimited returns nil when the pair is not currently rate limited.
	RateLimited(ctx context.Context, userID int64, provider string) (*data.RateLimitState, error)
}
