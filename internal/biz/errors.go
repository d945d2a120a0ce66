package biz

import (
	"errors"
	"fmt"

	"OAuthGuard/internal/data"
)

// 通知错误，展示层据此映射 HTTP 状态码
var (
	ErrNotificationNotFound = data.ErrNotificationNotFound
	ErrNotDismissible       = data.ErrNotDismissible
)

// CircuitOpenError 熔断打开，调用未被执行
type CircuitOpenError struct {
	Operation string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for operation %q", e.Operation)
}

// IsCircuitOpen reports whether err was raised by an open circuit.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// EscalationError 策略无法处理，要求分发器用新的错误重新选择策略
type EscalationError struct {
	Err error
}

// Error implements the error interface.
func (e *EscalationError) Error() string {
	return "recovery escalated: " + e.Err.Error()
}

// Unwrap returns the error to re-dispatch.
func (e *EscalationError) Unwrap() error {
	return e.Err
}

// escalate wraps err so the dispatcher re-resolves a strategy for it.
func escalate(err error) (*RecoveryResult, error) {
	return nil, &EscalationError{Err: err}
}
