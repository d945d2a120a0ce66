package biz

import (
	"context"
	"errors"
	"fmt"

	"OAuthGuard/internal/data"
	"OAuthGuard/pkg/log"
	"OAuthGuard/pkg/oauth"

	klog "github.com/go-kratos/kratos/v2/log"
)

// TokenRefreshStrategy access token 失效：用 refresh token 刷新后允许重试
// 没有可用的 refresh token 或刷新被拒绝时升级为重新授权
type TokenRefreshStrategy struct {
	tokens    TokenRepo
	lifecycle *TokenLifecycle
	logger    *log.LogHelper
}

// NewTokenRefreshStrategy creates the token refresh strategy.
func NewTokenRefreshStrategy(tokens TokenRepo, lifecycle *TokenLifecycle, logger klog.Logger) *TokenRefreshStrategy {
	return &TokenRefreshStrategy{
		tokens:    tokens,
		lifecycle: lifecycle,
		logger:    log.NewLogHelper(logger),
	}
}

// Name implements RecoveryStrategy.
func (s *TokenRefreshStrategy) Name() string { return StrategyTokenRefresh }

// CanHandle implements RecoveryStrategy.
func (s *TokenRefreshStrategy) CanHandle(kind oauth.ErrorKind) bool {
	return kind == oauth.KindInvalidAccessToken
}

// Execute implements RecoveryStrategy.
func (s *TokenRefreshStrategy) Execute(ctx context.Context, user *User, err error, rc *RecoveryContext) (*RecoveryResult, error) {
	token, terr := s.tokens.MostRecent(ctx, user.ID)
	switch {
	case errors.Is(terr, data.ErrTokenNotFound):
		return s.escalateToReauth(ctx, user, err, rc, "no token on record")
	case terr != nil:
		return nil, fmt.Errorf("failed to load most recent token: %w", terr)
	case !token.HasRefreshToken():
		return s.escalateToReauth(ctx, user, err, rc, "token has no refresh token")
	}

	ok, rerr := s.lifecycle.RefreshNow(ctx, token)
	if rerr != nil {
		return s.escalateToReauth(ctx, user, err, rc, rerr.Error())
	}
	if !ok {
		return s.escalateToReauth(ctx, user, err, rc, "provider refused the refresh grant")
	}

	s.logger.Recovery(ctx, "access token refreshed, original call can be retried", "user_id", user.ID, "token_id", token.ID)
	return &RecoveryResult{
		Strategy:    StrategyTokenRefresh,
		ActionTaken: "token_refreshed",
		CanRetry:    true,
		Title:       "Session renewed",
		Message:     "Your connection to the provider was renewed.",
	}, nil
}

// escalateToReauth 合成"刷新失败，需要重新授权"错误，原始错误放入上下文供审计
func (s *TokenRefreshStrategy) escalateToReauth(ctx context.Context, user *User, err error, rc *RecoveryContext, reason string) (*RecoveryResult, error) {
	rc.Set("original_error", err.Error())
	s.logger.Recovery(ctx, "token refresh not possible, escalating to reauthentication",
		"user_id", user.ID,
		"reason", reason)
	return escalate(oauth.NewReauthRequiredError("refresh failed, reauthentication required: "+reason, err))
}
