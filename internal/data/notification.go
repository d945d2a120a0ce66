package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"OAuthGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// notificationRetention 不自动消失的通知保留时间
	notificationRetention = 7 * 24 * time.Hour
	adminNotificationCap  = 1000
)

var (
	// ErrNotificationNotFound 通知不存在或已过期
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrNotDismissible 通知不允许手动关闭
	ErrNotDismissible = errors.New("notification is not dismissible")
)

// NotificationStore implements biz.NotificationService interface.
// 用户通知：notification:{id} 字符串（TTL = 自动消失时间）+ notifications:user:{uid} 有序集合索引
// 管理员告警：notifications:admin 列表，保留最近 1000 条
type NotificationStore struct {
	rdb    *redis.Client
	now    func() time.Time
	logger *log.Helper
}

// NewNotificationStore creates a new notification store on the shared Redis client.
func NewNotificationStore(data *Data, logger log.Logger) *NotificationStore {
	return &NotificationStore{
		rdb:    data.GetRedisClient(),
		now:    time.Now,
		logger: log.NewHelper(logger),
	}
}

func userIndexKey(userID int64) string {
	return BuildCacheKey(CacheKeyUserNotifications, strconv.FormatInt(userID, 10))
}

// NotifyUser 保存用户通知
func (s *NotificationStore) NotifyUser(ctx context.Context, n *model.UserNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	s.logger.Infow("msg", "user notified",
		"user_id", n.UserID,
		"kind", n.Kind,
		"priority", n.Priority,
		"auto_dismiss_after", n.AutoDismissAfter)

	if s.rdb == nil {
		return nil
	}

	ttl := n.AutoDismissAfter
	if ttl <= 0 {
		ttl = notificationRetention
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	indexKey := userIndexKey(n.UserID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, BuildCacheKey(CacheKeyNotification, n.ID), payload, ttl)
		pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(n.CreatedAt.UnixMilli()), Member: n.ID})
		pipe.Expire(ctx, indexKey, notificationRetention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

// ListUser 按时间倒序返回用户未过期的通知
// 已自动消失的通知会顺便从索引中清理
func (s *NotificationStore) ListUser(ctx context.Context, userID int64, limit int) ([]*model.UserNotification, error) {
	if s.rdb == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	indexKey := userIndexKey(userID)
	out := make([]*model.UserNotification, 0, limit)
	var expired []interface{}

	// 按页扫描索引，跳过已过期的条目直到凑满 limit
	for start := int64(0); len(out) < limit; start += int64(limit) {
		ids, err := s.rdb.ZRevRange(ctx, indexKey, start, start+int64(limit)-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list notifications: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = BuildCacheKey(CacheKeyNotification, id)
		}
		values, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load notifications: %w", err)
		}

		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				expired = append(expired, ids[i])
				continue
			}
			if len(out) == limit {
				continue
			}
			var n model.UserNotification
			if err := json.Unmarshal([]byte(raw), &n); err != nil {
				s.logger.Warnw("msg", "skipping malformed notification", "id", ids[i], "error", err)
				continue
			}
			out = append(out, &n)
		}
		if len(ids) < limit {
			break
		}
	}

	if len(expired) > 0 {
		if err := s.rdb.ZRem(ctx, indexKey, expired...).Err(); err != nil {
			s.logger.Warnw("msg", "failed to prune expired notifications", "user_id", userID, "error", err)
		}
	}
	return out, nil
}

// Dismiss 用户手动关闭通知
func (s *NotificationStore) Dismiss(ctx context.Context, userID int64, id string) error {
	if s.rdb == nil {
		return ErrNotificationNotFound
	}

	key := BuildCacheKey(CacheKeyNotification, id)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("failed to load notification: %w", err)
	}

	var n model.UserNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	if n.UserID != userID {
		return ErrNotificationNotFound
	}
	if !n.Dismissible {
		return ErrNotDismissible
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, userIndexKey(userID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to dismiss notification: %w", err)
	}
	return nil
}

// NotifyAdmin 保存管理员告警
func (s *NotificationStore) NotifyAdmin(ctx context.Context, n *model.AdminNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	s.logger.Warnw("msg", "admin notified",
		"kind", n.Kind,
		"severity", n.Severity,
		"title", n.Title)

	if s.rdb == nil {
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal admin notification: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, CacheKeyAdminNotifications, payload)
		pipe.LTrim(ctx, CacheKeyAdminNotifications, 0, adminNotificationCap-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store admin notification: %w", err)
	}
	return nil
}

// ListAdmin 最近的管理员告警
func (s *NotificationStore) ListAdmin(ctx context.Context, limit int) ([]*model.AdminNotification, error) {
	if s.rdb == nil {
		return nil, nil
	}
	if limit <= 0 || limit > adminNotificationCap {
		limit = 50
	}

	values, err := s.rdb.LRange(ctx, CacheKeyAdminNotifications, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list admin notifications: %w", err)
	}

	out := make([]*model.AdminNotification, 0, len(values))
	for _, raw := range values {
		var n model.AdminNotification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		out = append(out, &n)
	}
	return out, nil
}
