package data

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	localRateLimitSize = 10000
	localRateLimitTTL  = 10 * time.Minute
)

// RateLimitState 缓存的限流状态
type RateLimitState struct {
	UserID   int64     `json:"user_id"`
	Provider string    `json:"provider"`
	Until    time.Time `json:"until"`
}

// RetryAfter 剩余等待时间
func (s *RateLimitState) RetryAfter(now time.Time) time.Duration {
	if d := s.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RateLimitStore implements biz.RateLimitCache interface.
// Redis 为共享状态，进程内 expirable LRU 作为前置缓存，Redis 不可用时仍能短路本进程内的调用
type RateLimitStore struct {
	cache  CacheClient
	local  *expirable.LRU[string, RateLimitState]
	now    func() time.Time
	logger *log.Helper
}

// NewRateLimitStore creates a new rate limit store on the shared cache client.
func NewRateLimitStore(data *Data, logger log.Logger) *RateLimitStore {
	return &RateLimitStore{
		cache:  data.GetCache(),
		local:  expirable.NewLRU[string, RateLimitState](localRateLimitSize, nil, localRateLimitTTL),
		now:    time.Now,
		logger: log.NewHelper(logger),
	}
}

// RateLimitKey rate_limit:{userID}:{provider}
func RateLimitKey(userID int64, provider string) string {
	return BuildCacheKey(CacheKeyRateLimit, strconv.FormatInt(userID, 10), provider)
}

// MarkRateLimited 写入限流状态，TTL 等于重试延迟
func (s *RateLimitStore) MarkRateLimited(ctx context.Context, userID int64, provider string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := RateLimitKey(userID, provider)
	state := RateLimitState{UserID: userID, Provider: provider, Until: s.now().Add(ttl)}

	s.local.Add(key, state)

	if err := s.cache.Set(ctx, key, state, ttl); err != nil {
		s.logger.Warnw("msg", "failed to persist rate limit state", "user_id", userID, "provider", provider, "error", err)
		return err
	}
	return nil
}

// RateLimited 查询限流状态，未限流时返回 nil
func (s *RateLimitStore) RateLimited(ctx context.Context, userID int64, provider string) (*RateLimitState, error) {
	key := RateLimitKey(userID, provider)
	now := s.now()

	if state, ok := s.local.Get(key); ok {
		if state.Until.After(now) {
			return &state, nil
		}
		s.local.Remove(key)
	}

	var state RateLimitState
	err := s.cache.Get(ctx, key, &state)
	switch {
	case errors.Is(err, ErrCacheNotFound), errors.Is(err, errNilClient):
		return nil, nil
	case err != nil:
		return nil, err
	}

	if !state.Until.After(now) {
		return nil, nil
	}
	s.local.Add(key, state)
	return &state, nil
}
