package model

import "time"

// CircuitStats 某个受保护操作的熔断状态快照
type CircuitStats struct {
	Operation        string        `json:"operation"`
	Open             bool          `json:"open"`
	FailureCount     int           `json:"failure_count"`
	FailureThreshold int           `json:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
	LastFailureTime  *time.Time    `json:"last_failure_time,omitempty"`
	HasFallback      bool          `json:"has_fallback"`
}
