package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/log"

	klog "github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

const auditBufferSize = 1000

// AuditLog is the GORM model for oauth_audit_logs table
type AuditLog struct {
	ID            int64     `gorm:"primaryKey;column:id"`
	Kind          string    `gorm:"column:kind;type:varchar(50);not null;index"`
	UserID        int64     `gorm:"column:user_id;default:0;not null;index"` // 0 = 系统事件
	ErrorKind     string    `gorm:"column:error_kind;type:varchar(50)"`
	CorrelationID string    `gorm:"column:correlation_id;type:varchar(64);index"`
	Details       string    `gorm:"column:details;type:json"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "oauth_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger interface.
// 事件通过带缓冲的 channel 异步落库，channel 满时丢弃并告警
type AuditLoggerImpl struct {
	db       *gorm.DB
	logChan  chan *AuditLog
	stop     chan struct{}
	finished chan struct{}
	once     sync.Once
	logger   *log.LogHelper
}

// NewAuditLogger creates a new audit logger with async channel.
// The returned cleanup drains pending events.
func NewAuditLogger(db *gorm.DB, logger klog.Logger) (*AuditLoggerImpl, func()) {
	al := &AuditLoggerImpl{
		db:       db,
		logChan:  make(chan *AuditLog, auditBufferSize),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		logger:   log.NewLogHelper(logger),
	}

	go al.start()

	return al, al.Close
}

func (a *AuditLoggerImpl) start() {
	defer close(a.finished)
	for {
		select {
		case event := <-a.logChan:
			a.write(event)
		case <-a.stop:
			for {
				select {
				case event := <-a.logChan:
					a.write(event)
				default:
					return
				}
			}
		}
	}
}

func (a *AuditLoggerImpl) write(event *AuditLog) {
	if err := a.db.WithContext(context.Background()).Create(event).Error; err != nil {
		a.logger.Errorw("msg", "failed to write audit log",
			"kind", event.Kind,
			"user_id", event.UserID,
			"error", err)
		return
	}
	a.logger.Debugw("msg", "audit log written", "kind", event.Kind, "user_id", event.UserID)
}

// LogEvent 记录审计事件（非阻塞）
// payload 中的 user_id / error_kind / correlation_id 会提升为独立列，
// correlation_id 缺失时从 ctx 中补齐
func (a *AuditLoggerImpl) LogEvent(ctx context.Context, kind model.AuditEventKind, payload model.AuditPayload) {
	event, err := newAuditRecord(kind, payload, log.CorrelationID(ctx))
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "kind", kind, "error", err)
		return
	}

	select {
	case <-a.stop:
		a.logger.Warnw("msg", "audit logger closed, dropping event", "kind", kind)
		return
	default:
	}

	select {
	case a.logChan <- event:
		a.logger.Audit(string(kind), "user_id", event.UserID, "error_kind", event.ErrorKind)
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"kind", kind,
			"user_id", event.UserID)
	}
}

// Close 停止接收事件并等待已排队事件写完
func (a *AuditLoggerImpl) Close() {
	a.once.Do(func() {
		close(a.stop)
	})
	<-a.finished
}

func newAuditRecord(kind model.AuditEventKind, payload model.AuditPayload, ctxCorrelationID string) (*AuditLog, error) {
	record := &AuditLog{Kind: string(kind)}

	details := make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case "user_id":
			if id, ok := toInt64(v); ok {
				record.UserID = id
				continue
			}
		case "error_kind":
			record.ErrorKind = fmt.Sprint(v)
			continue
		case "correlation_id":
			record.CorrelationID = fmt.Sprint(v)
			continue
		}
		details[k] = v
	}
	if record.CorrelationID == "" {
		record.CorrelationID = ctxCorrelationID
	}

	b, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	record.Details = string(b)
	return record, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}
