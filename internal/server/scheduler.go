package server

import (
	"context"
	"fmt"
	"time"

	"OAuthGuard/internal/biz"
	"OAuthGuard/internal/conf"
	pkglog "OAuthGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultCheckSpec 每 15 分钟检查一次（秒 分 时 日 月 周）
	DefaultCheckSpec = "0 */15 * * * *"

	checkTimeout = 5 * time.Minute
)

var _ transport.Server = (*RefreshScheduler)(nil)

// expiringRefresher 定时检查入口
type expiringRefresher interface {
	ScheduleExpiringRefreshCheck(ctx context.Context, bufferMinutes int) (map[int64]struct{}, error)
	Start(ctx context.Context)
	Stop()
}

// RefreshScheduler 定时检查即将过期的 Token 并排队刷新
// 作为 kratos transport.Server 随应用启停：启动刷新 worker 与 cron，停止时等待正在执行的检查
type RefreshScheduler struct {
	cron          *cron.Cron
	lifecycle     expiringRefresher
	spec          string
	bufferMinutes int
	logger        *pkglog.LogHelper
}

// NewRefreshScheduler creates the scheduler from lifecycle config.
func NewRefreshScheduler(c *conf.Lifecycle, lifecycle *biz.TokenLifecycle, logger log.Logger) *RefreshScheduler {
	return newRefreshScheduler(c, lifecycle, logger)
}

func newRefreshScheduler(c *conf.Lifecycle, lifecycle expiringRefresher, logger log.Logger) *RefreshScheduler {
	spec := DefaultCheckSpec
	buffer := biz.DefaultRefreshBuffer
	if c != nil {
		if c.CheckSpec != "" {
			spec = c.CheckSpec
		}
		buffer = conf.AsDuration(c.Buffer, biz.DefaultRefreshBuffer)
	}
	return &RefreshScheduler{
		cron:          cron.New(cron.WithSeconds()),
		lifecycle:     lifecycle,
		spec:          spec,
		bufferMinutes: int(buffer / time.Minute),
		logger:        pkglog.NewLogHelper(logger),
	}
}

// Start 启动刷新 worker 并注册 cron 任务
func (s *RefreshScheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, s.runCheck); err != nil {
		return fmt.Errorf("failed to register refresh check %q: %w", s.spec, err)
	}
	s.lifecycle.Start(ctx)
	s.cron.Start()
	s.logger.Scheduler("token refresh scheduler started", "spec", s.spec, "buffer_minutes", s.bufferMinutes)
	return nil
}

// Stop 停止 cron，等待正在执行的检查结束后停止 worker
func (s *RefreshScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warnw("msg", "refresh check still running at shutdown")
	}
	s.lifecycle.Stop()
	s.logger.Scheduler("token refresh scheduler stopped")
	return nil
}

func (s *RefreshScheduler) runCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	ctx = pkglog.WithRequestContext(ctx, "")

	start := time.Now()
	users, err := s.lifecycle.ScheduleExpiringRefreshCheck(ctx, s.bufferMinutes)
	if err != nil {
		s.logger.Errorw("msg", "token refresh check failed", "error", err, "correlation_id", pkglog.CorrelationID(ctx))
		return
	}
	s.logger.Scheduler("token refresh check completed",
		"users", len(users),
		"duration_ms", time.Since(start).Milliseconds(),
		"correlation_id", pkglog.CorrelationID(ctx))
}
