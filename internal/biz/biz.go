// Package biz contains business logic layer implementations.
// This layer holds the circuit breaker, recovery strategies and token lifecycle.
//
// GuardedCaller is the entry point for code that embeds this package and wraps
// its own provider calls; the HTTP service only reports failures after the fact,
// so no injector in cmd/ consumes it.
package biz

import (
	"OAuthGuard/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewCircuitBreaker,
	NewNetworkRetryStrategy,
	NewRateLimitStrategy,
	NewReauthenticationStrategy,
	NewTokenRefreshStrategy,
	NewDefaultStrategy,
	NewRecoveryDispatcher,
	NewTokenLifecycle,
	NewGuardedCaller,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(TokenRepo), new(*data.TokenRepo)),
	wire.Bind(new(TokenRefresher), new(*data.ProviderTokenRefresher)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
	wire.Bind(new(NotificationService), new(*data.NotificationStore)),
	wire.Bind(new(RateLimitCache), new(*data.RateLimitStore)),
)
