package model

import "time"

// NotificationPriority 通知优先级
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// Severity 管理员告警级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// UserNotification 发给用户的通知
type UserNotification struct {
	ID          string               `json:"id"`
	UserID      int64                `json:"user_id"`
	Kind        string               `json:"kind"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Priority    NotificationPriority `json:"priority"`
	Dismissible bool                 `json:"dismissible"`
	// AutoDismissAfter 为 0 表示不会自动消失
	AutoDismissAfter time.Duration `json:"auto_dismiss_after,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// AdminNotification 管理员告警
type AdminNotification struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
