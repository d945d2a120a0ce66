package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	dberrors "OAuthGuard/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

var (
	// ErrTokenNotFound 用户没有可用的 Token
	ErrTokenNotFound = errors.New("oauth token not found")
	// ErrVersionConflict 乐观锁冲突：Token 已被其他刷新修改
	ErrVersionConflict = errors.New("oauth token version conflict")
	// ErrTokenExists 同一 ID 的 Token 已存在
	ErrTokenExists = errors.New("oauth token already exists")
)

// OAuthToken is the GORM model for oauth_tokens table.
// Access / refresh tokens are stored encrypted (pkg/crypto).
type OAuthToken struct {
	ID                    int64          `gorm:"primaryKey;column:id"`
	UserID                int64          `gorm:"column:user_id;not null;index:idx_user_created,priority:1"`
	Provider              string         `gorm:"column:provider;type:varchar(50);not null"`
	AccessTokenEncrypted  string         `gorm:"column:access_token_encrypted;type:text;not null"`
	RefreshTokenEncrypted string         `gorm:"column:refresh_token_encrypted;type:text"`
	ExpiresAt             time.Time      `gorm:"column:expires_at;not null;index"`
	Scope                 string         `gorm:"column:scope;type:varchar(512)"`
	RawResponse           string         `gorm:"column:raw_response;type:json"`
	Version               int64          `gorm:"column:version;not null;default:1"`
	InvalidatedAt         *time.Time     `gorm:"column:invalidated_at"`
	CreatedAt             time.Time      `gorm:"column:created_at;autoCreateTime;index:idx_user_created,priority:2"`
	UpdatedAt             time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt             gorm.DeletedAt `gorm:"column:deleted_at;index"` // 解绑后软删除
}

// TableName specifies the table name for GORM
func (OAuthToken) TableName() string {
	return "oauth_tokens"
}

// HasRefreshToken 是否带有 refresh_token
func (t *OAuthToken) HasRefreshToken() bool {
	return t != nil && t.RefreshTokenEncrypted != ""
}

// Invalidated 是否已被重新授权流程作废
func (t *OAuthToken) Invalidated() bool {
	return t != nil && t.InvalidatedAt != nil
}

// Unlinked 集成是否已解绑
func (t *OAuthToken) Unlinked() bool {
	return t != nil && t.DeletedAt.Valid
}

// RefreshedToken 刷新后写回的字段（已加密）
type RefreshedToken struct {
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	ExpiresAt             time.Time
	Scope                 string
	RawResponse           string
}

// TokenRepo implements biz.TokenRepo interface with GORM.
type TokenRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewTokenRepo creates a new token repository.
func NewTokenRepo(db *gorm.DB, logger log.Logger) *TokenRepo {
	return &TokenRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

// Create 保存新 Token
func (r *TokenRepo) Create(ctx context.Context, token *OAuthToken) error {
	if token.Version == 0 {
		token.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		if dberrors.IsDuplicateKeyError(err) {
			return ErrTokenExists
		}
		return fmt.Errorf("failed to create oauth token: %w", err)
	}
	r.logger.Infow("msg", "oauth token created", "token_id", token.ID, "user_id", token.UserID, "provider", token.Provider)
	return nil
}

// Get 按 ID 读取 Token
func (r *TokenRepo) Get(ctx context.Context, id int64) (*OAuthToken, error) {
	var token OAuthToken
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get oauth token: %w", err)
	}
	return &token, nil
}

// MostRecent 用户最近签发的 Token
func (r *TokenRepo) MostRecent(ctx context.Context, userID int64) (*OAuthToken, error) {
	var token OAuthToken
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get most recent oauth token: %w", err)
	}
	return &token, nil
}

// InvalidateAll 作废用户全部 Token：expires_at 置为 at，保留记录用于审计
// 返回受影响的行数
func (r *TokenRepo) InvalidateAll(ctx context.Context, userID int64, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&OAuthToken{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"expires_at":     at,
			"invalidated_at": at,
			"version":        gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to invalidate oauth tokens: %w", result.Error)
	}

	r.logger.Infow("msg", "oauth tokens invalidated", "user_id", userID, "count", result.RowsAffected)
	return result.RowsAffected, nil
}

// ListExpiring 列出 from < expires_at <= to 且未作废的 Token
func (r *TokenRepo) ListExpiring(ctx context.Context, from, to time.Time) ([]*OAuthToken, error) {
	var tokens []*OAuthToken
	err := r.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at <= ?", from, to).
		Where("invalidated_at IS NULL").
		Order("expires_at ASC").
		Find(&tokens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring oauth tokens: %w", err)
	}

	r.logger.Debugw("msg", "expiring oauth tokens listed", "count", len(tokens), "from", from, "to", to)
	return tokens, nil
}

// UpdateRefreshed 乐观锁写回刷新结果
// expectedVersion 与库中不一致时返回 ErrVersionConflict（后到的刷新被拒绝）
func (r *TokenRepo) UpdateRefreshed(ctx context.Context, tokenID, expectedVersion int64, refreshed *RefreshedToken) error {
	updates := map[string]interface{}{
		"access_token_encrypted": refreshed.AccessTokenEncrypted,
		"expires_at":             refreshed.ExpiresAt,
		"version":                gorm.Expr("version + 1"),
	}
	// Provider 未轮换 refresh_token 时保留旧值
	if refreshed.RefreshTokenEncrypted != "" {
		updates["refresh_token_encrypted"] = refreshed.RefreshTokenEncrypted
	}
	if refreshed.Scope != "" {
		updates["scope"] = refreshed.Scope
	}
	if refreshed.RawResponse != "" {
		updates["raw_response"] = refreshed.RawResponse
	}

	result := r.db.WithContext(ctx).
		Model(&OAuthToken{}).
		Where("id = ? AND version = ?", tokenID, expectedVersion).
		Updates(updates)
	if result.Error != nil && dberrors.IsInvalidJSONError(result.Error) {
		// Provider 原始响应不是合法 JSON，丢弃后重写
		r.logger.Warnw("msg", "raw token response rejected by database", "token_id", tokenID)
		delete(updates, "raw_response")
		result = r.db.WithContext(ctx).
			Model(&OAuthToken{}).
			Where("id = ? AND version = ?", tokenID, expectedVersion).
			Updates(updates)
	}
	if result.Error != nil {
		if dberrors.IsContentionError(result.Error) {
			// 另一个刷新正在写同一行，按后到者处理
			r.logger.Warnw("msg", "oauth token row contended", "token_id", tokenID, "error", result.Error)
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to update refreshed oauth token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		r.logger.Warnw("msg", "oauth token version conflict", "token_id", tokenID, "expected_version", expectedVersion)
		return ErrVersionConflict
	}

	r.logger.Infow("msg", "oauth token refreshed", "token_id", tokenID, "token_expires_at", refreshed.ExpiresAt)
	return nil
}
