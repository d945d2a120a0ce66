// Package middleware provides HTTP middleware for request logging and correlation ids.
package middleware

import (
	"context"
	"strings"

	pkglog "OAuthGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// RequestIDHeader 关联 ID 请求头，响应中原样返回
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen 超长的外部关联 ID 直接丢弃，重新生成
const maxRequestIDLen = 128

// Logging 返回一个记录 HTTP 请求日志的中间件
// 从 X-Request-ID 读取关联 ID（缺失时生成），注入 Request Context，贯穿恢复与审计链路
//
// 日志输出示例:
//
//	POST /v1/recover - 200 (12ms) | {"type":"request","correlation_id":"...","user_id":42}
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			var (
				method        string
				path          string
				correlationID string
				kvs           []interface{}
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Kind().String()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}
					kvs = append(kvs,
						"ip", extractClientIP(httpReq),
						"user_agent", httpReq.Header.Get("User-Agent"))
					if id := strings.TrimSpace(httpReq.Header.Get(RequestIDHeader)); len(id) <= maxRequestIDLen {
						correlationID = id
					}
				}
			}

			ctx = pkglog.WithRequestContext(ctx, correlationID)
			if tr, ok := transport.FromServerContext(ctx); ok {
				tr.ReplyHeader().Set(RequestIDHeader, pkglog.CorrelationID(ctx))
			}

			reply, err := handler(ctx, req)

			if rc := pkglog.GetRequestContext(ctx); rc != nil && rc.UserID != 0 {
				kvs = append(kvs, "user_id", rc.UserID)
			}
			if err != nil {
				kvs = append(kvs, "reason", errors.Reason(err))
			}
			logger.Request(ctx, method, path, extractHTTPStatus(err), pkglog.GetElapsedTime(ctx), kvs...)

			return reply, err
		}
	}
}

// extractClientIP 从请求中提取客户端真实 IP
// 优先级: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	// 取第一个 IP
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// extractHTTPStatus 从 Kratos 错误中提取 HTTP 状态码
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.FromError(err).Code)
}
