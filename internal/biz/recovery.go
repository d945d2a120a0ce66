package biz

import (
	"context"
	"time"

	"OAuthGuard/pkg/oauth"
)

// Strategy names
const (
	StrategyNetworkRetry   = "network_retry"
	StrategyRateLimit      = "rate_limit"
	StrategyReauthenticate = "reauthentication"
	StrategyTokenRefresh   = "token_refresh"
	StrategyDefault        = "default"
)

// RecoveryContext 单次失败的恢复上下文，不持久化
type RecoveryContext struct {
	// AttemptCount 当前是第几次尝试，从 1 开始
	AttemptCount  int
	CorrelationID string
	EndpointPath  string
	Critical      bool
	// Extra 在策略之间透传的附加数据
	Extra map[string]any
}

// NewRecoveryContext creates a context for the first attempt.
func NewRecoveryContext(correlationID string) *RecoveryContext {
	return &RecoveryContext{
		AttemptCount:  1,
		CorrelationID: correlationID,
		Extra:         make(map[string]any),
	}
}

// Attempt returns AttemptCount, treating unset values as the first attempt.
func (rc *RecoveryContext) Attempt() int {
	if rc == nil || rc.AttemptCount < 1 {
		return 1
	}
	return rc.AttemptCount
}

// Set stores an opaque value for later strategies.
func (rc *RecoveryContext) Set(key string, value any) {
	if rc.Extra == nil {
		rc.Extra = make(map[string]any)
	}
	rc.Extra[key] = value
}

// RecoveryResult 恢复结果，交给展示层渲染
type RecoveryResult struct {
	Strategy           string         `json:"strategy"`
	ActionTaken        string         `json:"action_taken"`
	CanRetry           bool           `json:"can_retry"`
	RetryDelay         *time.Duration `json:"retry_delay,omitempty"`
	RequiresUserAction bool           `json:"requires_user_action"`
	RedirectURL        string         `json:"redirect_url,omitempty"`
	UserNotified       bool           `json:"user_notified"`
	AdminNotified      bool           `json:"admin_notified"`
	Title              string         `json:"title,omitempty"`
	Message            string         `json:"message,omitempty"`
}

// RecoveryStrategy 恢复策略
// CanHandle 只依赖错误类别；Execute 返回 *EscalationError 表示交回分发器重新选择策略
type RecoveryStrategy interface {
	Name() string
	CanHandle(kind oauth.ErrorKind) bool
	Execute(ctx context.Context, user *User, err error, rc *RecoveryContext) (*RecoveryResult, error)
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
