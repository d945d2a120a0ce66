package log

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// contextKey 是用于存储 RequestContext 的私有 key 类型
type contextKey string

const requestContextKey contextKey = "oauthguard_request_context"

// RequestContext 请求追踪信息
// CorrelationID 贯穿一次失败及其恢复链路（HTTP 请求、恢复、审计）
type RequestContext struct {
	CorrelationID string
	UserID        int64
	StartTime     time.Time
}

// NewCorrelationID 生成新的关联 ID
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithRequestContext 将 RequestContext 注入 Context
// correlationID 为空时自动生成
func WithRequestContext(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return context.WithValue(ctx, requestContextKey, &RequestContext{
		CorrelationID: correlationID,
		StartTime:     time.Now(),
	})
}

// GetRequestContext 从 Context 中提取 RequestContext，不存在时返回 nil
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return nil
	}
	reqCtx, _ := ctx.Value(requestContextKey).(*RequestContext)
	return reqCtx
}

// CorrelationID 从 Context 中提取关联 ID，不存在时返回空字符串
func CorrelationID(ctx context.Context) string {
	if reqCtx := GetRequestContext(ctx); reqCtx != nil {
		return reqCtx.CorrelationID
	}
	return ""
}

// SetUserID 记录当前请求关联的用户
func SetUserID(ctx context.Context, userID int64) {
	if reqCtx := GetRequestContext(ctx); reqCtx != nil {
		reqCtx.UserID = userID
	}
}

// GetElapsedTime 获取请求已执行时间（毫秒）
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx == nil || reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
