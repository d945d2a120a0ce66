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
	// DefaultReauthURL 重新授权入口
	DefaultReauthURL = "/auth/provider"

	extendedScopeParam = "scope=extended"
)

type reauthMessage struct {
	title   string
	message string
}

var reauthMessages = map[oauth.ErrorKind]reauthMessage{
	oauth.KindAccessRevoked: {
		title:   "Access revoked",
		message: "Your connection to the provider was revoked. Please reconnect your account to continue.",
	},
	oauth.KindInvalidRefreshToken: {
		title:   "Session expired",
		message: "Your connection to the provider has expired. Please sign in again to continue.",
	},
	oauth.KindScope: {
		title:   "Additional permissions required",
		message: "This feature needs additional permissions. Please reconnect your account and grant the requested access.",
	},
}

// ReauthenticationStrategy 需要用户重新授权：作废全部 Token（保留记录），高优先级通知，给出跳转地址
type ReauthenticationStrategy struct {
	tokens    TokenRepo
	notifier  NotificationService
	audit     AuditLogger
	reauthURL string
	now       func() time.Time
	logger    *log.LogHelper
}

// NewReauthenticationStrategy creates the reauthentication strategy.
func NewReauthenticationStrategy(tokens TokenRepo, notifier NotificationService, audit AuditLogger, c *conf.Recovery, logger klog.Logger) *ReauthenticationStrategy {
	reauthURL := DefaultReauthURL
	if c != nil && c.ReauthUrl != "" {
		reauthURL = c.ReauthUrl
	}
	return &ReauthenticationStrategy{
		tokens:    tokens,
		notifier:  notifier,
		audit:     audit,
		reauthURL: reauthURL,
		now:       time.Now,
		logger:    log.NewLogHelper(logger),
	}
}

// Name implements RecoveryStrategy.
func (s *ReauthenticationStrategy) Name() string { return StrategyReauthenticate }

// CanHandle implements RecoveryStrategy.
func (s *ReauthenticationStrategy) CanHandle(kind oauth.ErrorKind) bool {
	switch kind {
	case oauth.KindAccessRevoked, oauth.KindInvalidRefreshToken, oauth.KindScope:
		return true
	}
	return false
}

func (s *ReauthenticationStrategy) redirectFor(kind oauth.ErrorKind) string {
	if kind != oauth.KindScope {
		return s.reauthURL
	}
	return s.reauthURL + "?" + extendedScopeParam
}

// Execute implements RecoveryStrategy.
func (s *ReauthenticationStrategy) Execute(ctx context.Context, user *User, err error, rc *RecoveryContext) (*RecoveryResult, error) {
	kind := oauth.KindOf(err)
	msg, ok := reauthMessages[kind]
	if !ok {
		// 其他类别但被标记为需要重新授权
		msg = reauthMessages[oauth.KindInvalidRefreshToken]
	}

	// 作废失败时仍然要求用户重新授权，新授权会覆盖旧 Token
	count, ierr := s.tokens.InvalidateAll(ctx, user.ID, s.now())
	if ierr != nil {
		s.logger.Errorw("msg", "failed to invalidate tokens", "user_id", user.ID, "error", ierr)
	}

	payload := model.AuditPayload{
		"user_id":        user.ID,
		"error_kind":     string(kind),
		"correlation_id": rc.CorrelationID,
		"count":          count,
	}
	if orig, ok := rc.Extra["original_error"]; ok {
		payload["original_error"] = fmt.Sprint(orig)
	}
	s.audit.LogEvent(ctx, model.AuditTokensInvalidated, payload)

	n := &model.UserNotification{
		UserID:      user.ID,
		Kind:        "reauth_required",
		Title:       msg.title,
		Message:     msg.message,
		Priority:    model.PriorityHigh,
		Dismissible: false,
	}
	notified := true
	if nerr := s.notifier.NotifyUser(ctx, n); nerr != nil {
		s.logger.Warnw("msg", "failed to notify user", "user_id", user.ID, "error", nerr)
		notified = false
	}

	s.logger.Token("tokens invalidated, reauthentication required",
		"user_id", user.ID,
		"error_kind", kind,
		"token_count", count)

	return &RecoveryResult{
		Strategy:           StrategyReauthenticate,
		ActionTaken:        "tokens_invalidated",
		CanRetry:           false,
		RequiresUserAction: true,
		RedirectURL:        s.redirectFor(kind),
		UserNotified:       notified,
		Title:              msg.title,
		Message:            msg.message,
	}, nil
}
