package log

import (
	"net/url"
	"strings"
)

// sensitiveKeywords key 中包含这些词时值会被打码
var sensitiveKeywords = []string{
	"password", "passwd",
	"token", "secret",
	"credential", "private_key", "encryption_key",
	"client_secret", "code_verifier",
}

// nonSensitiveKeys 包含敏感词但不是凭据的字段
var nonSensitiveKeys = map[string]struct{}{
	"token_id":         {},
	"token_count":      {},
	"token_expires_at": {},
	"token_version":    {},
}

// SanitizeField 按 key 判断值是否敏感并打码
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)
	if _, ok := nonSensitiveKeys[lowerKey]; ok {
		return value
	}

	switch {
	case strings.Contains(lowerKey, "email"):
		return sanitizeEmail(value)
	case strings.Contains(lowerKey, "authorization"):
		return sanitizeAuthorization(value)
	case strings.Contains(lowerKey, "proxy"):
		return sanitizeURL(value)
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return maskMiddle(value)
		}
	}
	return value
}

// maskMiddle 保留首尾各 4 个字符；8 个字符以内只保留首尾字符
func maskMiddle(value string) string {
	n := len(value)
	switch {
	case n <= 2:
		return strings.Repeat("*", n)
	case n <= 8:
		return value[:1] + strings.Repeat("*", n-2) + value[n-1:]
	default:
		return value[:4] + strings.Repeat("*", n-8) + value[n-4:]
	}
}

// sanitizeAuthorization "Bearer xxx" 保留认证方案，只打码凭据
func sanitizeAuthorization(value string) string {
	scheme, cred, ok := strings.Cut(value, " ")
	if !ok {
		return maskMiddle(value)
	}
	return scheme + " " + maskMiddle(cred)
}

// sanitizeURL 代理地址只隐藏 userinfo 中的密码
func sanitizeURL(value string) string {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return maskMiddle(value)
	}
	if u.User == nil {
		return value
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// sanitizeEmail 保留本地部分前 3 个字符和域名
func sanitizeEmail(value string) string {
	local, domain, ok := strings.Cut(value, "@")
	if !ok || strings.Contains(domain, "@") {
		return strings.Repeat("*", len(value))
	}

	switch {
	case local == "":
		return "@" + domain
	case len(local) <= 3:
		return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
	default:
		return local[:3] + "***@" + domain
	}
}
