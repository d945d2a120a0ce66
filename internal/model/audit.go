package model

// AuditEventKind 审计事件类型
type AuditEventKind string

// Audit event kinds
const (
	AuditRecoveryAttempt   AuditEventKind = "recovery_attempt"
	AuditRecoveryFailed    AuditEventKind = "recovery_failed"
	AuditRecoveryEscalated AuditEventKind = "recovery_escalated"
	AuditTokenRefreshed    AuditEventKind = "token_refreshed"
	AuditTokenRefreshFail  AuditEventKind = "token_refresh_failed"
	AuditTokensInvalidated AuditEventKind = "tokens_invalidated"
	AuditRateLimited       AuditEventKind = "rate_limit_encountered"
	AuditUnhandledError    AuditEventKind = "unhandled_error"
	AuditCircuitOpened     AuditEventKind = "circuit_opened"
	AuditCircuitReset      AuditEventKind = "circuit_reset"
)

// AuditPayload 审计事件内容
// user_id / error_kind / correlation_id 在可用时必须带上
type AuditPayload map[string]any
