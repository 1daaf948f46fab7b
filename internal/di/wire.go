//go:build wireinject
// +build wireinject

package di

import (
	"TradeScout/pkg/config"
	"TradeScout/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the daemon.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		usecaseSet,

		// Background work and the operator API
		ProvideScheduler,
		ProvideLimiter,
		ProvideHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeConsole wires the use cases for one-shot CLI commands.
func InitializeConsole(cfg *config.Config) (*Console, func(), error) {
	wire.Build(
		infraSet,
		usecaseSet,
		wire.Struct(new(Console), "*"),
	)
	return nil, nil, nil
}
