//go:build ignore
// +build ignore

package main

import (
	"context"

	"OAuthGuard/internal/conf"
	pkglog "OAuthGuard/pkg/log"
)

func main() {
	// 创建日志配置
	logConf := &conf.Log{
		Level:  "debug",
		Format: "console",
		Env:    "development",
	}

	zapLogger, err := pkglog.NewZapLogger(logConf)
	if err != nil {
		panic(err)
	}

	kratosLogger := pkglog.NewKratosAdapter(zapLogger)
	helper := pkglog.NewLogHelper(kratosLogger)
	ctx := pkglog.WithRequestContext(context.Background(), "")

	println("=== 测试日志输出格式 ===\n")

	helper.Startup("OAuthGuard service starting", "version", "1.0.0", "port", 8080)
	helper.Request(ctx, "POST", "/v1/recover", 200, 12, "ip", "192.168.1.100")
	helper.OAuth("Token refreshed", "provider", "acme", "expires_in", 3600)
	helper.Token("token invalidated", "user_id", 42, "access_token", "secret-value")
	helper.Scheduler("expiring token refreshes enqueued", "users", 3)
	helper.Circuit("circuit opened", "operation", "oauth.token_refresh", "failure_threshold", 5)
	helper.Recovery(ctx, "recovery executed", "strategy", "rate_limit", "can_retry", true)
	helper.Audit("audit event", "kind", "tokens_invalidated")
	helper.RateLimit("provider rate limit encountered", "user_id", 42, "retry_delay", "45s")

	println("\n=== 日志输出完成 ===")
}
