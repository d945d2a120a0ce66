package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"OAuthGuard/internal/conf"
	"OAuthGuard/internal/model"
	"OAuthGuard/pkg/log"
	"OAuthGuard/pkg/metrics"

	klog "github.com/go-kratos/kratos/v2/log"
)

const (
	// DefaultFailureThreshold 未注册操作的默认失败阈值
	DefaultFailureThreshold = 5
	// DefaultOpenTimeout 未注册操作的默认打开时长
	DefaultOpenTimeout = 60 * time.Second

	// OperationTokenRefresh Provider 刷新 Token 的受保护操作
	OperationTokenRefresh = "oauth.token_refresh"
)

// ErrAlreadyRegistered 同一操作只能注册一次
var ErrAlreadyRegistered = errors.New("operation already registered")

// GuardedFunc 受保护的调用
type GuardedFunc func(ctx context.Context) (any, error)

// GuardConfig 受保护操作的配置，注册后不可修改
type GuardConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
	// Fallback 熔断打开时代替调用执行（可选）
	Fallback GuardedFunc
}

type guardedOperation struct {
	cfg     GuardConfig
	circuit *Circuit
}

// CircuitBreaker 按操作 ID 维护熔断器
// 熔断器只决定是否执行调用，不做任何恢复处理
type CircuitBreaker struct {
	mu         sync.RWMutex
	operations map[string]*guardedOperation
	defaults   GuardConfig
	now        func() time.Time

	audit   AuditLogger
	metrics metrics.Recorder
	logger  *log.LogHelper
}

// NewCircuitBreaker creates a circuit breaker whose unregistered operations use the configured defaults.
func NewCircuitBreaker(c *conf.Breaker, audit AuditLogger, m metrics.Recorder, logger klog.Logger) *CircuitBreaker {
	defaults := GuardConfig{
		FailureThreshold: DefaultFailureThreshold,
		OpenTimeout:      DefaultOpenTimeout,
	}
	if c != nil {
		if c.FailureThreshold > 0 {
			defaults.FailureThreshold = int(c.FailureThreshold)
		}
		defaults.OpenTimeout = conf.AsDuration(c.OpenTimeout, DefaultOpenTimeout)
	}
	if m == nil {
		m = metrics.NewNoop()
	}

	return &CircuitBreaker{
		operations: make(map[string]*guardedOperation),
		defaults:   defaults,
		now:        time.Now,
		audit:      audit,
		metrics:    m,
		logger:     log.NewLogHelper(logger),
	}
}

// Register 注册受保护操作
func (b *CircuitBreaker) Register(operation string, cfg GuardConfig) error {
	if cfg.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", cfg.FailureThreshold)
	}
	if cfg.OpenTimeout <= 0 {
		return fmt.Errorf("open timeout must be positive, got %s", cfg.OpenTimeout)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.operations[operation]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, operation)
	}
	b.operations[operation] = &guardedOperation{
		cfg:     cfg,
		circuit: newCircuit(cfg.FailureThreshold, cfg.OpenTimeout, b.now),
	}
	return nil
}

func (b *CircuitBreaker) operation(name string) *guardedOperation {
	b.mu.RLock()
	op, ok := b.operations[name]
	b.mu.RUnlock()
	if ok {
		return op
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if op, ok = b.operations[name]; ok {
		return op
	}
	op = &guardedOperation{
		cfg:     b.defaults,
		circuit: newCircuit(b.defaults.FailureThreshold, b.defaults.OpenTimeout, b.now),
	}
	b.operations[name] = op
	return op
}

// Guard 执行受保护调用
// 熔断打开时不执行 call：有 fallback 则执行 fallback，否则返回 *CircuitOpenError。
// call 失败且恰好使熔断打开时，有 fallback 则返回 fallback 的结果；其他情况返回原始错误
func (b *CircuitBreaker) Guard(ctx context.Context, operation string, call GuardedFunc) (any, error) {
	op := b.operation(operation)

	open, reset := op.circuit.check()
	if reset {
		b.logger.Circuit("circuit reset after open timeout", "operation", operation)
		b.metrics.CircuitReset(operation)
		b.auditEvent(ctx, model.AuditCircuitReset, operation, op)
	}
	if open {
		b.metrics.CircuitRejected(operation)
		if op.cfg.Fallback != nil {
			return op.cfg.Fallback(ctx)
		}
		return nil, &CircuitOpenError{Operation: operation}
	}

	result, err := call(ctx)
	if err == nil {
		op.circuit.Success()
		return result, nil
	}

	// 调用方主动取消不算 Provider 失败
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil, err
	}

	if op.circuit.Failure() {
		b.logger.Circuit("circuit opened",
			"operation", operation,
			"failure_threshold", op.cfg.FailureThreshold,
			"open_timeout", op.cfg.OpenTimeout,
			"error", err)
		b.metrics.CircuitOpened(operation)
		b.auditEvent(ctx, model.AuditCircuitOpened, operation, op)

		if op.cfg.Fallback != nil {
			return op.cfg.Fallback(ctx)
		}
	}
	return nil, err
}

func (b *CircuitBreaker) auditEvent(ctx context.Context, kind model.AuditEventKind, operation string, op *guardedOperation) {
	if b.audit == nil {
		return
	}
	b.audit.LogEvent(ctx, kind, model.AuditPayload{
		"operation":         operation,
		"failure_threshold": op.cfg.FailureThreshold,
		"open_timeout_ms":   op.cfg.OpenTimeout.Milliseconds(),
		"correlation_id":    log.CorrelationID(ctx),
	})
}

// IsOpen 查询操作的熔断状态（会触发超时复位）
func (b *CircuitBreaker) IsOpen(operation string) bool {
	return b.operation(operation).circuit.IsOpen()
}

// Stats 所有已知操作的状态，按操作名排序
func (b *CircuitBreaker) Stats() []model.CircuitStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.CircuitStats, 0, len(b.operations))
	for name, op := range b.operations {
		s := op.circuit.Stats(name)
		s.HasFallback = op.cfg.Fallback != nil
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}
