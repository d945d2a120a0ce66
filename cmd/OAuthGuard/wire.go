//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"OAuthGuard/internal/biz"
	"OAuthGuard/internal/conf"
	"OAuthGuard/internal/data"
	"OAuthGuard/internal/server"
	"OAuthGuard/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Auth, *conf.OAuth, *conf.Breaker, *conf.Lifecycle, *conf.Recovery, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newMetrics,
		newApp,
	))
}
