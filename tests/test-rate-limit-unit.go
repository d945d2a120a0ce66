// Package main provides a manual integration check for the rate-limit gate and notifications.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"OAuthGuard/internal/biz"
	"OAuthGuard/internal/conf"
	"OAuthGuard/internal/data"
	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
)

// Manual integration test against a real Redis instance (REDIS_ADDR, default localhost:6379).
// Exercises RateLimitStore, NotificationStore and the rate-limit strategy end to end.

func main() {
	logger := log.NewStdLogger(os.Stdout)
	ctx := context.Background()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	fmt.Println("==========================================")
	fmt.Println("OAuthGuard Rate Limit Integration Test")
	fmt.Println("==========================================")
	fmt.Println()

	fmt.Println("Step 1: Connect to Redis")
	fmt.Println("------------------------------------------")
	confData := &conf.Data{Redis: &conf.Data_Redis{Addr: addr}}
	rdb, cleanup, err := data.NewRedisClient(confData, logger)
	if err != nil || rdb == nil {
		fmt.Printf("✗ Failed to connect to Redis at %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer cleanup()
	d, cleanupData, _ := data.NewData(confData, logger, rdb, data.NewCacheClient(rdb))
	defer cleanupData()
	fmt.Println("✓ Connected to Redis successfully")
	fmt.Println()

	const userID int64 = 99999
	const provider = "integration"

	store := data.NewRateLimitStore(d, logger)
	notifications := data.NewNotificationStore(d, logger)

	defer func() {
		fmt.Println()
		fmt.Println("Cleanup")
		fmt.Println("------------------------------------------")
		rdb.Del(ctx, data.RateLimitKey(userID, provider))
		fmt.Println("✓ Cleaned up test data")
	}()

	fmt.Println("Step 2: Rate limit strategy caches state")
	fmt.Println("------------------------------------------")
	strategy := biz.NewRateLimitStrategy(store, notifications, noopAudit{}, &conf.OAuth{Provider: provider}, logger)
	retryAfter := 3 * time.Second
	result, err := strategy.Execute(ctx, &biz.User{ID: userID}, oauth.NewRateLimitError(&retryAfter, nil), biz.NewRecoveryContext("integration"))
	if err != nil {
		fmt.Printf("✗ Strategy failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  Strategy: %s, action: %s, retry in %s\n", result.Strategy, result.ActionTaken, *result.RetryDelay)

	state, err := store.RateLimited(ctx, userID, provider)
	if err == nil && state != nil {
		fmt.Printf("✓ Rate limited until %s\n", state.Until.Format(time.RFC3339))
	} else {
		fmt.Printf("✗ Expected rate limit state, got %v (err=%v)\n", state, err)
	}
	fmt.Println()

	fmt.Println("Step 3: Notification stored with auto-dismiss")
	fmt.Println("------------------------------------------")
	list, err := notifications.ListUser(ctx, userID, 10)
	if err == nil && len(list) > 0 {
		fmt.Printf("✓ %d notification(s), latest: %q\n", len(list), list[0].Message)
	} else {
		fmt.Printf("✗ Expected a notification (err=%v)\n", err)
	}
	fmt.Println()

	fmt.Println("Step 4: Wait for expiry...")
	fmt.Println("------------------------------------------")
	time.Sleep(retryAfter + time.Second)

	// 本进程的前置缓存与 Redis 同时过期
	state, err = store.RateLimited(ctx, userID, provider)
	if err == nil && state == nil {
		fmt.Println("✓ Rate limit expired")
	} else {
		fmt.Printf("✗ Expected no state, got %v (err=%v)\n", state, err)
	}
	list, _ = notifications.ListUser(ctx, userID, 10)
	fmt.Printf("  Active notifications after auto-dismiss: %d\n", len(list))
}

type noopAudit struct{}

func (noopAudit) LogEvent(context.Context, model.AuditEventKind, model.AuditPayload) {}
