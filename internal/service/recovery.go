package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"OAuthGuard/internal/biz"
	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/log"
	"OAuthGuard/pkg/oauth"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	klog "github.com/go-kratos/kratos/v2/log"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 1000

	// 超过上限的输入按上限处理，避免换算成 time.Duration 时溢出
	maxRetryAfterSeconds = int64(7 * 24 * 60 * 60)
	maxBufferMinutes     = 7 * 24 * 60
)

type recoverer interface {
	Recover(ctx context.Context, user *biz.User, err error, rc *biz.RecoveryContext) *biz.RecoveryResult
}

type circuitStats interface {
	Stats() []model.CircuitStats
}

type refreshScheduler interface {
	ScheduleExpiringRefreshCheck(ctx context.Context, bufferMinutes int) (map[int64]struct{}, error)
}

// RecoveryService 恢复核心的 HTTP 入口
type RecoveryService struct {
	dispatcher recoverer
	breaker    circuitStats
	lifecycle  refreshScheduler
	notifier   biz.NotificationService
	logger     *log.LogHelper
}

// NewRecoveryService creates a new RecoveryService instance.
func NewRecoveryService(
	dispatcher *biz.RecoveryDispatcher,
	breaker *biz.CircuitBreaker,
	lifecycle *biz.TokenLifecycle,
	notifier biz.NotificationService,
	logger klog.Logger,
) *RecoveryService {
	return &RecoveryService{
		dispatcher: dispatcher,
		breaker:    breaker,
		lifecycle:  lifecycle,
		notifier:   notifier,
		logger:     log.NewLogHelper(logger),
	}
}

// RecoverRequest 一次失败的描述
type RecoverRequest struct {
	UserID            int64      `json:"user_id"`
	ErrorKind         string     `json:"error_kind"`
	Message           string     `json:"message"`
	RetryAfterSeconds *int64     `json:"retry_after_seconds,omitempty"`
	ResetTime         *time.Time `json:"reset_time,omitempty"`
	Attempt           int        `json:"attempt"`
	Critical          bool       `json:"critical"`
	Endpoint          string     `json:"endpoint"`
	CorrelationID     string     `json:"correlation_id"`
}

// RecoverReply 恢复结果
type RecoverReply struct {
	Strategy           string   `json:"strategy"`
	ActionTaken        string   `json:"action_taken"`
	CanRetry           bool     `json:"can_retry"`
	RetryDelaySeconds  *float64 `json:"retry_delay_seconds,omitempty"`
	RequiresUserAction bool     `json:"requires_user_action"`
	RedirectURL        string   `json:"redirect_url,omitempty"`
	UserNotified       bool     `json:"user_notified"`
	AdminNotified      bool     `json:"admin_notified"`
	Title              string   `json:"title,omitempty"`
	Message            string   `json:"message,omitempty"`
	CorrelationID      string   `json:"correlation_id"`
}

// providerError 由请求还原出 *oauth.Error
func providerError(req *RecoverRequest) *oauth.Error {
	kind := oauth.ParseErrorKind(req.ErrorKind)
	e := &oauth.Error{Kind: kind, Message: req.Message}

	switch kind {
	case oauth.KindRateLimit:
		if req.RetryAfterSeconds != nil && *req.RetryAfterSeconds > 0 {
			d := time.Duration(min(*req.RetryAfterSeconds, maxRetryAfterSeconds)) * time.Second
			e.RetryAfter = &d
		}
		e.ResetTime = req.ResetTime
	case oauth.KindAccessRevoked, oauth.KindInvalidRefreshToken, oauth.KindScope:
		e.RequiresReauth = true
	}
	return e
}

// Recover 分发一次失败，返回展示层需要的结果
func (s *RecoveryService) Recover(ctx context.Context, req *RecoverRequest) (*RecoverReply, error) {
	if req.UserID <= 0 {
		return nil, kerrors.BadRequest("INVALID_USER_ID", "user_id is required")
	}
	if req.ErrorKind == "" {
		return nil, kerrors.BadRequest("INVALID_ERROR_KIND", "error_kind is required")
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = log.CorrelationID(ctx)
	}
	log.SetUserID(ctx, req.UserID)

	rc := biz.NewRecoveryContext(correlationID)
	if req.Attempt > 0 {
		rc.AttemptCount = req.Attempt
	}
	rc.Critical = req.Critical
	rc.EndpointPath = req.Endpoint

	result := s.dispatcher.Recover(ctx, &biz.User{ID: req.UserID}, providerError(req), rc)

	reply := &RecoverReply{
		Strategy:           result.Strategy,
		ActionTaken:        result.ActionTaken,
		CanRetry:           result.CanRetry,
		RequiresUserAction: result.RequiresUserAction,
		RedirectURL:        result.RedirectURL,
		UserNotified:       result.UserNotified,
		AdminNotified:      result.AdminNotified,
		Title:              result.Title,
		Message:            result.Message,
		CorrelationID:      rc.CorrelationID,
	}
	if result.RetryDelay != nil {
		secs := result.RetryDelay.Seconds()
		reply.RetryDelaySeconds = &secs
	}
	return reply, nil
}

// ListCircuitsRequest 无参数
type ListCircuitsRequest struct{}

// ListCircuitsReply 熔断状态
type ListCircuitsReply struct {
	Circuits []model.CircuitStats `json:"circuits"`
}

// ListCircuits returns a snapshot of every known circuit.
func (s *RecoveryService) ListCircuits(_ context.Context, _ *ListCircuitsRequest) (*ListCircuitsReply, error) {
	return &ListCircuitsReply{Circuits: s.breaker.Stats()}, nil
}

// RefreshCheckRequest 手动触发过期 Token 检查
type RefreshCheckRequest struct {
	BufferMinutes int `json:"buffer_minutes"`
}

// RefreshCheckReply 已排队刷新的用户
type RefreshCheckReply struct {
	UserIDs []int64 `json:"user_ids"`
	Count   int     `json:"count"`
}

// RefreshCheck 与定时任务相同的入口，buffer_minutes 为 0 时使用配置
func (s *RecoveryService) RefreshCheck(ctx context.Context, req *RefreshCheckRequest) (*RefreshCheckReply, error) {
	if req.BufferMinutes < 0 {
		return nil, kerrors.BadRequest("INVALID_BUFFER", "buffer_minutes must not be negative")
	}

	users, err := s.lifecycle.ScheduleExpiringRefreshCheck(ctx, min(req.BufferMinutes, maxBufferMinutes))
	if err != nil {
		s.logger.Errorw("msg", "failed to run refresh check", "error", err)
		return nil, kerrors.InternalServer("REFRESH_CHECK_FAILED", "failed to run refresh check")
	}

	ids := make([]int64, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &RefreshCheckReply{UserIDs: ids, Count: len(ids)}, nil
}

// ListNotificationsRequest 用户通知查询
type ListNotificationsRequest struct {
	UserID int64 `json:"user_id"`
	Limit  int   `json:"limit"`
}

// ListNotificationsReply 用户通知
type ListNotificationsReply struct {
	Notifications []*model.UserNotification `json:"notifications"`
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultNotificationLimit
	}
	return min(limit, maxNotificationLimit)
}

// ListNotifications returns the user's active notifications, newest first.
func (s *RecoveryService) ListNotifications(ctx context.Context, req *ListNotificationsRequest) (*ListNotificationsReply, error) {
	if req.UserID <= 0 {
		return nil, kerrors.BadRequest("INVALID_USER_ID", "user id is required")
	}
	list, err := s.notifier.ListUser(ctx, req.UserID, clampLimit(req.Limit))
	if err != nil {
		s.logger.Errorw("msg", "failed to list notifications", "user_id", req.UserID, "error", err)
		return nil, kerrors.InternalServer("NOTIFICATIONS_UNAVAILABLE", "failed to list notifications")
	}
	if list == nil {
		list = []*model.UserNotification{}
	}
	return &ListNotificationsReply{Notifications: list}, nil
}

// DismissNotificationRequest 关闭通知
type DismissNotificationRequest struct {
	UserID         int64  `json:"user_id"`
	NotificationID string `json:"notification_id"`
}

// DismissNotificationReply 空响应
type DismissNotificationReply struct{}

// DismissNotification 关闭可关闭的通知
func (s *RecoveryService) DismissNotification(ctx context.Context, req *DismissNotificationRequest) (*DismissNotificationReply, error) {
	if req.UserID <= 0 || req.NotificationID == "" {
		return nil, kerrors.BadRequest("INVALID_NOTIFICATION", "user id and notification id are required")
	}

	err := s.notifier.Dismiss(ctx, req.UserID, req.NotificationID)
	switch {
	case errors.Is(err, biz.ErrNotificationNotFound):
		return nil, kerrors.NotFound("NOTIFICATION_NOT_FOUND", "notification not found")
	case errors.Is(err, biz.ErrNotDismissible):
		return nil, kerrors.Conflict("NOTIFICATION_NOT_DISMISSIBLE", "notification cannot be dismissed")
	case err != nil:
		s.logger.Errorw("msg", "failed to dismiss notification", "user_id", req.UserID, "id", req.NotificationID, "error", err)
		return nil, kerrors.InternalServer("NOTIFICATIONS_UNAVAILABLE", "failed to dismiss notification")
	}
	return &DismissNotificationReply{}, nil
}

// ListAdminNotificationsRequest 管理员告警查询
type ListAdminNotificationsRequest struct {
	Limit int `json:"limit"`
}

// ListAdminNotificationsReply 管理员告警
type ListAdminNotificationsReply struct {
	Notifications []*model.AdminNotification `json:"notifications"`
}

// ListAdminNotifications returns recent admin alerts, newest first.
func (s *RecoveryService) ListAdminNotifications(ctx context.Context, req *ListAdminNotificationsRequest) (*ListAdminNotificationsReply, error) {
	list, err := s.notifier.ListAdmin(ctx, clampLimit(req.Limit))
	if err != nil {
		s.logger.Errorw("msg", "failed to list admin notifications", "error", err)
		return nil, kerrors.InternalServer("NOTIFICATIONS_UNAVAILABLE", "failed to list admin notifications")
	}
	if list == nil {
		list = []*model.AdminNotification{}
	}
	return &ListAdminNotificationsReply{Notifications: list}, nil
}
