// Package server wires transports: the HTTP API and the token refresh scheduler.
package server

import "github.com/google/wire"

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer, NewRefreshScheduler)
