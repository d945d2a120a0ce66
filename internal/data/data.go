// Package data provides data access layer implementations.
// It handles database connections, caching and the provider token boundary.
package data

import (
	"fmt"

	"OAuthGuard/internal/conf"
	"OAuthGuard/pkg/crypto"
	"OAuthGuard/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
	NewTokenCipher,
	NewOAuthClient,
	NewTokenRepo,
	NewProviderTokenRefresher,
	NewAuditLogger,
	NewNotificationStore,
	NewRateLimitStore,
)

// Data contains shared data layer dependencies.
type Data struct {
	redisClient *redis.Client
	cache       CacheClient
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, cache CacheClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, rate-limit state and notifications will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
		cache:       cache,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// GetCache returns the cache client for repository use.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// NewTokenCipher 创建 Token 落库加密器
func NewTokenCipher(c *conf.Auth) (*crypto.TokenCipher, error) {
	if c == nil || c.Encryption == nil {
		return nil, fmt.Errorf("encryption configuration is required")
	}
	tc, err := crypto.NewTokenCipher(c.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cipher: %w", err)
	}
	return tc, nil
}

// NewOAuthClient 创建 Provider Token 客户端
func NewOAuthClient(c *conf.OAuth) oauth.TokenClient {
	return oauth.NewClient(oauth.ClientConfig{
		TokenURL:   c.TokenUrl,
		ClientID:   c.ClientId,
		Timeout:    conf.AsDuration(c.Timeout, oauth.DefaultTimeout),
		MaxRetries: int(c.MaxRetries),
	})
}
