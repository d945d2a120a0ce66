package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
	"unicode/utf8"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"oauth error", NewScopeError("x"), KindScope},
		{"wrapped oauth error", fmt.Errorf("failed to call: %w", NewRateLimitError(nil, nil)), KindRateLimit},
		{"deadline exceeded", context.DeadlineExceeded, KindNetwork},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindNetwork},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("boom")}, KindNetwork},
		{"kratos 503", kerrors.ServiceUnavailable("UPSTREAM", "down"), KindServer},
		{"kratos 429", kerrors.New(http.StatusTooManyRequests, "RATE", "slow"), KindRateLimit},
		{"kratos 401", kerrors.Unauthorized("AUTH", "expired"), KindInvalidAccessToken},
		{"kratos 400", kerrors.BadRequest("BAD", "bad"), KindUnknown},
		{"plain error", errors.New("something odd"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestParseErrorKind(t *testing.T) {
	assert.Equal(t, KindRateLimit, ParseErrorKind("rate_limit_error"))
	assert.Equal(t, KindNetwork, ParseErrorKind(" NETWORK_ERROR "))
	assert.Equal(t, KindUnknown, ParseErrorKind("nope"))
	assert.Equal(t, KindUnknown, ParseErrorKind(""))
}

func TestRequiresReauth(t *testing.T) {
	assert.True(t, RequiresReauth(NewAccessRevokedError("")))
	assert.True(t, RequiresReauth(NewReauthRequiredError("refresh failed", errors.New("x"))))
	assert.False(t, RequiresReauth(NewNetworkError(errors.New("x"))))
	assert.False(t, RequiresReauth(errors.New("plain")))
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := NewReauthRequiredError("refresh failed", cause)

	assert.Contains(t, e.Error(), "invalid_refresh_token")
	assert.Contains(t, e.Error(), "refresh failed")
	assert.Contains(t, e.Error(), "root cause")
	assert.ErrorIs(t, e, cause)
}

func TestClassifyResponse_OAuthCodes(t *testing.T) {
	tests := []struct {
		code   string
		status int
		want   ErrorKind
	}{
		{"invalid_grant", http.StatusBadRequest, KindInvalidRefreshToken},
		{"invalid_token", http.StatusUnauthorized, KindInvalidAccessToken},
		{"access_denied", http.StatusForbidden, KindAccessRevoked},
		{"unauthorized_client", http.StatusBadRequest, KindAccessRevoked},
		{"insufficient_scope", http.StatusForbidden, KindScope},
		{"invalid_scope", http.StatusBadRequest, KindScope},
		{"invalid_client", http.StatusUnauthorized, KindConfiguration},
		{"unsupported_grant_type", http.StatusBadRequest, KindConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			body := []byte(`{"error":"` + tt.code + `","error_description":"desc"}`)
			e := ClassifyResponse(tt.status, http.Header{}, body)
			assert.Equal(t, tt.want, e.Kind)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.status, e.StatusCode)
			assert.Equal(t, "desc", e.Message)
			assert.Nil(t, e.Challenge)
		})
	}
}

func TestClassifyResponse_StatusFallback(t *testing.T) {
	assert.Equal(t, KindInvalidAccessToken, ClassifyResponse(http.StatusUnauthorized, http.Header{}, nil).Kind)
	assert.Equal(t, KindAccessRevoked, ClassifyResponse(http.StatusForbidden, http.Header{}, []byte("{}")).Kind)
	assert.Equal(t, KindServer, ClassifyResponse(http.StatusBadGateway, http.Header{}, []byte("bad gateway")).Kind)
	assert.Equal(t, KindUnknown, ClassifyResponse(http.StatusTeapot, http.Header{}, []byte("teapot")).Kind)
}

func TestClassifyResponse_RateLimitHeaders(t *testing.T) {
	reset := time.Now().Add(2 * time.Minute).Unix()
	h := http.Header{}
	h.Set("Retry-After", "30")
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

	e := ClassifyResponse(http.StatusTooManyRequests, h, []byte(`{"error":"rate_limited"}`))
	assert.Equal(t, KindRateLimit, e.Kind)
	require.NotNil(t, e.RetryAfter)
	assert.Equal(t, 30*time.Second, *e.RetryAfter)
	require.NotNil(t, e.ResetTime)
	assert.Equal(t, reset, e.ResetTime.Unix())
	require.NotNil(t, e.Challenge)
	assert.Equal(t, ChallengeRateLimit, e.Challenge.Type)
}

func TestClassifyResponse_RateLimitWithoutHints(t *testing.T) {
	e := ClassifyResponse(http.StatusTooManyRequests, http.Header{}, nil)
	assert.Equal(t, KindRateLimit, e.Kind)
	assert.Nil(t, e.RetryAfter)
	assert.Nil(t, e.ResetTime)
}

func TestClassifyResponse_BrowserChallenge(t *testing.T) {
	body := []byte(`<html><head><title>Just a moment...</title></head><body></body></html>`)
	e := ClassifyResponse(http.StatusServiceUnavailable, http.Header{}, body)
	assert.Equal(t, KindServer, e.Kind)
	require.NotNil(t, e.Challenge)
	assert.Equal(t, ChallengeBrowser, e.Challenge.Type)
	assert.Equal(t, string(ChallengeBrowser), e.Code)
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))

	d := parseRetryAfter(h)
	require.NotNil(t, d)
	assert.InDelta(t, 90, d.Seconds(), 2)

	h.Set("Retry-After", "garbage")
	assert.Nil(t, parseRetryAfter(h))
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", truncateBody([]byte("  short\n")))

	ascii := strings.Repeat("a", 250)
	assert.Equal(t, strings.Repeat("a", 200)+"...", truncateBody([]byte(ascii)))

	// 第 200 字节落在三字节字符中间
	body := strings.Repeat("a", 199) + strings.Repeat("错", 10)
	got := truncateBody([]byte(body))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 199)+"...", got)
}
