package biz

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/log"
	"OAuthGuard/pkg/oauth"

	klog "github.com/go-kratos/kratos/v2/log"
)

const maxStackFrames = 10

type defaultMessage struct {
	title   string
	message string
}

var defaultMessages = map[oauth.ErrorKind]defaultMessage{
	oauth.KindConfiguration: {
		title:   "Service issue",
		message: "We are aware of a problem with the provider integration and are working on it.",
	},
	oauth.KindNetwork: {
		title:   "Connection problem",
		message: "We could not reach the provider. Please try again in a moment.",
	},
	oauth.KindServer: {
		title:   "Provider unavailable",
		message: "The provider is temporarily unavailable. Please try again in a moment.",
	},
	oauth.KindRateLimit: {
		title:   "Too many requests",
		message: "The provider is limiting requests. Please try again later.",
	},
	oauth.KindInvalidAccessToken: {
		title:   "Session problem",
		message: "Your session with the provider could not be verified. Please try again.",
	},
}

var unknownMessage = defaultMessage{
	title:   "Something went wrong",
	message: "Something went wrong while talking to the provider. Please try again, or contact support if the problem persists.",
}

// DefaultStrategy 兜底策略，匹配所有错误
type DefaultStrategy struct {
	notifier NotificationService
	audit    AuditLogger
	logger   *log.LogHelper
}

// NewDefaultStrategy creates the catch-all strategy.
func NewDefaultStrategy(notifier NotificationService, audit AuditLogger, logger klog.Logger) *DefaultStrategy {
	return &DefaultStrategy{
		notifier: notifier,
		audit:    audit,
		logger:   log.NewLogHelper(logger),
	}
}

// Name implements RecoveryStrategy.
func (s *DefaultStrategy) Name() string { return StrategyDefault }

// CanHandle implements RecoveryStrategy.
func (s *DefaultStrategy) CanHandle(oauth.ErrorKind) bool { return true }

func shouldNotifyAdmin(kind oauth.ErrorKind, rc *RecoveryContext) bool {
	return kind == oauth.KindConfiguration || kind == oauth.KindUnknown || (rc != nil && rc.Critical)
}

// Execute implements RecoveryStrategy.
func (s *DefaultStrategy) Execute(ctx context.Context, user *User, err error, rc *RecoveryContext) (*RecoveryResult, error) {
	kind := oauth.KindOf(err)
	if kind == "" {
		kind = oauth.KindUnknown
	}
	msg, ok := defaultMessages[kind]
	if !ok {
		msg = unknownMessage
	}

	s.logger.Errorw("msg", "unhandled oauth error",
		"user_id", user.ID,
		"error_kind", kind,
		"error", errorText(err),
		"endpoint", rc.EndpointPath,
		"correlation_id", rc.CorrelationID,
		"stack", stackFrames(maxStackFrames))

	adminNotified := false
	if shouldNotifyAdmin(kind, rc) {
		severity := model.SeverityWarning
		if kind == oauth.KindConfiguration || rc.Critical {
			severity = model.SeverityCritical
		}
		admin := &model.AdminNotification{
			Kind:     string(kind),
			Title:    fmt.Sprintf("OAuth %s", strings.ReplaceAll(string(kind), "_", " ")),
			Message:  errorText(err),
			Severity: severity,
			Context: map[string]any{
				"user_id":        user.ID,
				"correlation_id": rc.CorrelationID,
				"endpoint":       rc.EndpointPath,
				"critical":       rc.Critical,
			},
		}
		if nerr := s.notifier.NotifyAdmin(ctx, admin); nerr != nil {
			s.logger.Warnw("msg", "failed to notify admin", "error", nerr)
		} else {
			adminNotified = true
		}
	}

	n := &model.UserNotification{
		UserID:      user.ID,
		Kind:        "provider_error",
		Title:       msg.title,
		Message:     msg.message,
		Priority:    model.PriorityNormal,
		Dismissible: true,
	}
	userNotified := true
	if nerr := s.notifier.NotifyUser(ctx, n); nerr != nil {
		s.logger.Warnw("msg", "failed to notify user", "user_id", user.ID, "error", nerr)
		userNotified = false
	}

	s.audit.LogEvent(ctx, model.AuditUnhandledError, model.AuditPayload{
		"user_id":        user.ID,
		"error_kind":     string(kind),
		"correlation_id": rc.CorrelationID,
		"message":        errorText(err),
		"endpoint":       rc.EndpointPath,
		"admin_notified": adminNotified,
	})

	return &RecoveryResult{
		Strategy:      StrategyDefault,
		ActionTaken:   "notified",
		CanRetry:      false,
		UserNotified:  userNotified,
		AdminNotified: adminNotified,
		Title:         msg.title,
		Message:       msg.message,
	}, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// stackFrames 当前调用栈的前 n 帧，"function file:line"
func stackFrames(n int) []string {
	pcs := make([]uintptr, n)
	count := runtime.Callers(3, pcs)
	if count == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:count])

	out := make([]string, 0, count)
	for {
		f, more := frames.Next()
		out = append(out, fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line))
		if !more || len(out) >= n {
			break
		}
	}
	return out
}
