package data

import (
	"fmt"
	"time"

	"OAuthGuard/internal/conf"
	dberrors "OAuthGuard/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// normalizeDSN expires_at 的比较依赖 DATETIME 按 UTC 解析为 time.Time
func normalizeDSN(source string) (string, error) {
	cfg, err := gomysql.ParseDSN(source)
	if err != nil {
		return "", fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// NewMySQLClient 创建 GORM MySQL 客户端并迁移 Token / 审计表
func NewMySQLClient(c *conf.Data, l log.Logger) (*gorm.DB, func(), error) {
	helper := log.NewHelper(l)

	if c == nil || c.Database == nil || c.Database.Source == "" {
		helper.Error("database configuration is missing")
		return nil, nil, fmt.Errorf("database configuration is required")
	}

	dsn, err := normalizeDSN(c.Database.Source)
	if err != nil {
		return nil, nil, err
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.New(&gormLogAdapter{helper: helper}, logger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		classified := dberrors.ClassifyDBError(err)
		helper.Errorw("msg", "MySQL ping failed", "error_type", classified.Type.String(), "error", err)
		return nil, nil, fmt.Errorf("failed to ping MySQL: %w", classified)
	}

	if err := db.AutoMigrate(&OAuthToken{}, &AuditLog{}); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	helper.Infow("msg", "MySQL connection established", "tables", "oauth_tokens,oauth_audit_logs")

	cleanup := func() {
		helper.Info("closing MySQL connection")
		if err := sqlDB.Close(); err != nil {
			helper.Errorw("msg", "failed to close MySQL", "error", err)
		}
	}
	return db, cleanup, nil
}

// gormLogAdapter 把 GORM 日志转到 Kratos logger
type gormLogAdapter struct {
	helper *log.Helper
}

// Printf implements gorm/logger.Writer.
func (g *gormLogAdapter) Printf(format string, v ...interface{}) {
	g.helper.Warnf(format, v...)
}
