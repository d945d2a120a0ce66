package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper 扩展 Kratos log.Helper，按类别输出日志
// 每条日志带 "type" 字段，便于按类别检索
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func withType(msg, typ string, kvs []interface{}) []interface{} {
	allKvs := make([]interface{}, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	return append(allKvs, "type", typ)
}

// OAuth 记录 OAuth Provider 交互日志
func (h *LogHelper) OAuth(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "oauth", kvs)...)
}

// Token 记录 Token 刷新、失效日志
func (h *LogHelper) Token(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "token", kvs)...)
}

// RateLimit 记录限流日志
func (h *LogHelper) RateLimit(msg string, kvs ...interface{}) {
	h.Warnw(withType(msg, "rate_limit", kvs)...)
}

// Circuit 记录熔断状态变化
func (h *LogHelper) Circuit(msg string, kvs ...interface{}) {
	h.Warnw(withType(msg, "circuit", kvs)...)
}

// Recovery 记录恢复策略执行
func (h *LogHelper) Recovery(ctx context.Context, msg string, kvs ...interface{}) {
	if id := CorrelationID(ctx); id != "" {
		kvs = append(kvs, "correlation_id", id)
	}
	h.Infow(withType(msg, "recovery", kvs)...)
}

// Audit 记录审计日志
func (h *LogHelper) Audit(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "audit", kvs)...)
}

// Scheduler 记录调度器日志
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "scheduler", kvs)...)
}

// Startup 记录启动日志
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "startup", kvs)...)
}

// Request 记录 HTTP 请求日志，状态码 >= 500 时使用 error 级别
func (h *LogHelper) Request(ctx context.Context, method, path string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, path, status, durationMs)
	kvs = append(kvs,
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", durationMs,
	)
	if id := CorrelationID(ctx); id != "" {
		kvs = append(kvs, "correlation_id", id)
	}
	allKvs := withType(msg, "request", kvs)
	if status >= 500 {
		h.Errorw(allKvs...)
		return
	}
	h.Infow(allKvs...)
}
