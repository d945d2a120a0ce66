package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// ErrorKind OAuth 错误类别
// 恢复策略只按类别选择，不依赖具体错误类型
type ErrorKind string

// 错误类别常量
const (
	KindNetwork             ErrorKind = "network_error"
	KindServer              ErrorKind = "server_error"
	KindRateLimit           ErrorKind = "rate_limit_error"
	KindInvalidAccessToken  ErrorKind = "invalid_access_token"
	KindInvalidRefreshToken ErrorKind = "invalid_refresh_token"
	KindAccessRevoked       ErrorKind = "access_revoked"
	KindScope               ErrorKind = "scope_error"
	KindConfiguration       ErrorKind = "configuration_error"
	KindUnknown             ErrorKind = "unknown_error"
)

// ParseErrorKind 从字符串解析错误类别，未知值返回 KindUnknown
func ParseErrorKind(s string) ErrorKind {
	switch k := ErrorKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindNetwork, KindServer, KindRateLimit, KindInvalidAccessToken, KindInvalidRefreshToken,
		KindAccessRevoked, KindScope, KindConfiguration:
		return k
	default:
		return KindUnknown
	}
}

// Error OAuth Provider 结构化错误
// Kind 决定恢复策略，其余字段为各策略需要的附加信息
type Error struct {
	Kind           ErrorKind
	Code           string // Provider 错误码，如 invalid_grant
	Message        string
	StatusCode     int
	RetryAfter     *time.Duration
	ResetTime      *time.Time
	RequiresReauth bool
	Challenge      *Challenge
	Cause          error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(" [" + e.Code + "]")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewNetworkError 网络传输错误
func NewNetworkError(cause error) *Error {
	return &Error{Kind: KindNetwork, Message: "provider unreachable", Cause: cause}
}

// NewServerError 上游 5xx，或返回了验证页面而不是 JSON
func NewServerError(statusCode int, message string) *Error {
	return &Error{Kind: KindServer, StatusCode: statusCode, Message: message}
}

// NewRateLimitError 限流错误，retryAfter / resetTime 均可为空
func NewRateLimitError(retryAfter *time.Duration, resetTime *time.Time) *Error {
	return &Error{
		Kind:       KindRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Message:    "provider rate limit reached",
		RetryAfter: retryAfter,
		ResetTime:  resetTime,
	}
}

// NewInvalidAccessTokenError access_token 无效或已过期
func NewInvalidAccessTokenError(message string) *Error {
	return &Error{Kind: KindInvalidAccessToken, StatusCode: http.StatusUnauthorized, Code: "invalid_token", Message: message}
}

// NewInvalidRefreshTokenError refresh_token 被 Provider 拒绝
func NewInvalidRefreshTokenError(message string) *Error {
	return &Error{Kind: KindInvalidRefreshToken, Code: "invalid_grant", Message: message, RequiresReauth: true}
}

// NewAccessRevokedError 用户在 Provider 侧撤销了授权
func NewAccessRevokedError(message string) *Error {
	return &Error{Kind: KindAccessRevoked, StatusCode: http.StatusForbidden, Code: "access_denied", Message: message, RequiresReauth: true}
}

// NewScopeError Token 缺少接口所需的 scope
func NewScopeError(message string) *Error {
	return &Error{Kind: KindScope, StatusCode: http.StatusForbidden, Code: "insufficient_scope", Message: message, RequiresReauth: true}
}

// NewConfigurationError 客户端配置错误（client_id、secret、grant_type 等）
func NewConfigurationError(message string) *Error {
	return &Error{Kind: KindConfiguration, Code: "invalid_client", Message: message}
}

// NewReauthRequiredError 刷新无法进行或失败，用户必须重新授权
func NewReauthRequiredError(message string, cause error) *Error {
	return &Error{
		Kind:           KindInvalidRefreshToken,
		Code:           "refresh_failed",
		Message:        message,
		RequiresReauth: true,
		Cause:          cause,
	}
}

// AsError 从错误链中提取 *Error
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// KindOf 对任意错误分类，结果只取决于错误本身
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if oe, ok := AsError(err); ok {
		return oe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	// Kratos 错误携带 HTTP 状态码
	var ke *kerrors.Error
	if errors.As(err, &ke) {
		switch {
		case ke.Code == http.StatusTooManyRequests:
			return KindRateLimit
		case ke.Code == http.StatusUnauthorized:
			return KindInvalidAccessToken
		case ke.Code >= 500:
			return KindServer
		}
	}

	return KindUnknown
}

// RequiresReauth 错误是否明确要求重新授权
func RequiresReauth(err error) bool {
	if oe, ok := AsError(err); ok {
		return oe.RequiresReauth
	}
	return false
}

// providerErrorBody RFC 6749 错误响应
type providerErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// ClassifyResponse 将 Provider 的非成功响应转换为 *Error
// 先做验证页面检测，再按 API 错误解析 body
func ClassifyResponse(statusCode int, header http.Header, body []byte) *Error {
	if ch := Detect(statusCode, body); ch != nil {
		if ch.Type == ChallengeRateLimit {
			e := NewRateLimitError(parseRetryAfter(header), parseResetTime(header))
			e.Challenge = ch
			return e
		}
		e := NewServerError(statusCode, "provider returned a "+string(ch.Type)+" page")
		e.Code = string(ch.Type)
		e.Challenge = ch
		return e
	}

	var parsed providerErrorBody
	_ = json.Unmarshal(body, &parsed)
	message := parsed.ErrorDescription
	if message == "" {
		message = parsed.Message
	}

	var e *Error
	switch parsed.Error {
	case "invalid_grant":
		e = NewInvalidRefreshTokenError(message)
	case "invalid_token":
		e = NewInvalidAccessTokenError(message)
	case "access_denied", "unauthorized_client", "consent_required":
		e = NewAccessRevokedError(message)
	case "insufficient_scope", "invalid_scope":
		e = NewScopeError(message)
	case "invalid_client", "unsupported_grant_type", "invalid_request":
		e = NewConfigurationError(message)
	}
	if e != nil {
		e.Code = parsed.Error
		e.StatusCode = statusCode
		return e
	}

	if message == "" {
		message = truncateBody(body)
	}
	switch {
	case statusCode == http.StatusUnauthorized:
		e = NewInvalidAccessTokenError(message)
	case statusCode == http.StatusForbidden:
		e = NewAccessRevokedError(message)
	case statusCode >= 500:
		e = NewServerError(statusCode, message)
	default:
		e = &Error{Kind: KindUnknown, Code: parsed.Error, Message: message}
	}
	e.StatusCode = statusCode
	return e
}

// parseRetryAfter 解析 Retry-After（秒数或 HTTP 日期）
func parseRetryAfter(header http.Header) *time.Duration {
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// parseResetTime 解析 X-RateLimit-Reset（Unix 秒）
func parseResetTime(header http.Header) *time.Time {
	v := strings.TrimSpace(header.Get("X-RateLimit-Reset"))
	if v == "" {
		return nil
	}
	epoch, err := strconv.ParseInt(v, 10, 64)
	if err != nil || epoch <= 0 {
		return nil
	}
	t := time.Unix(epoch, 0)
	return &t
}

func truncateBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) <= max {
		return s
	}
	// 截断点退回到字符边界
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
