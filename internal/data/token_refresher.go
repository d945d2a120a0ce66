package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"OAuthGuard/internal/conf"
	"OAuthGuard/pkg/crypto"
	pkglog "OAuthGuard/pkg/log"
	"OAuthGuard/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
)

// ProviderTokenRefresher implements biz.TokenRefresher:
// 解密 refresh_token → Provider 刷新 → 加密 → 乐观锁写回
type ProviderTokenRefresher struct {
	repo     *TokenRepo
	client   oauth.TokenClient
	cipher   *crypto.TokenCipher
	proxyURL string
	now      func() time.Time
	logger   *pkglog.LogHelper
}

// NewProviderTokenRefresher creates a new provider token refresher.
func NewProviderTokenRefresher(
	repo *TokenRepo,
	client oauth.TokenClient,
	cipher *crypto.TokenCipher,
	c *conf.OAuth,
	logger log.Logger,
) *ProviderTokenRefresher {
	var proxyURL string
	if c != nil {
		proxyURL = c.ProxyUrl
	}
	return &ProviderTokenRefresher{
		repo:     repo,
		client:   client,
		cipher:   cipher,
		proxyURL: proxyURL,
		now:      time.Now,
		logger:   pkglog.NewLogHelper(logger),
	}
}

// tokenBinding 加密附加数据，密文只能在同一用户下解密
func tokenBinding(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// Refresh 刷新 Token
// Provider 明确拒绝授权（invalid_grant / 撤销）时返回 (false, nil)；
// 网络、限流等其他失败返回 error
func (r *ProviderTokenRefresher) Refresh(ctx context.Context, token *OAuthToken) (bool, error) {
	if !token.HasRefreshToken() {
		return false, nil
	}

	binding := tokenBinding(token.UserID)
	refreshToken, err := r.cipher.Open(token.RefreshTokenEncrypted, binding)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	start := r.now()
	resp, err := r.client.RefreshToken(ctx, refreshToken, r.proxyURL)
	if err != nil {
		switch oauth.KindOf(err) {
		case oauth.KindInvalidRefreshToken, oauth.KindAccessRevoked:
			r.logger.Warnw("msg", "provider refused refresh grant",
				"user_id", token.UserID,
				"token_id", token.ID,
				"error", err)
			return false, nil
		}
		return false, fmt.Errorf("failed to refresh token: %w", err)
	}

	r.logger.OAuth("provider refresh grant completed",
		"user_id", token.UserID,
		"token_id", token.ID,
		"expires_in", resp.ExpiresIn,
		"rotated_refresh_token", resp.RefreshToken != "",
		"duration_ms", r.now().Sub(start).Milliseconds())

	accessSealed, err := r.cipher.Seal(resp.AccessToken, binding)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshSealed, err := r.cipher.Seal(resp.RefreshToken, binding)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	refreshed := &RefreshedToken{
		AccessTokenEncrypted:  accessSealed,
		RefreshTokenEncrypted: refreshSealed,
		ExpiresAt:             r.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		Scope:                 resp.Scope,
		RawResponse:           string(resp.Raw),
	}

	if err := r.repo.UpdateRefreshed(ctx, token.ID, token.Version, refreshed); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// 其他进程已写入更新的 Token，本次结果丢弃
			r.logger.Warnw("msg", "refresh result discarded, token already updated elsewhere",
				"user_id", token.UserID,
				"token_id", token.ID)
			return true, nil
		}
		return false, err
	}

	token.AccessTokenEncrypted = refreshed.AccessTokenEncrypted
	if refreshed.RefreshTokenEncrypted != "" {
		token.RefreshTokenEncrypted = refreshed.RefreshTokenEncrypted
	}
	token.ExpiresAt = refreshed.ExpiresAt
	token.Version++
	return true, nil
}
