//go:build wireinject
// +build wireinject

package di

import (
	"CryptoAgent/pkg/config"
	"CryptoAgent/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideCacheStore,
		ProvideAnalysisClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideAnalysisSource,
		ProvideRenderPublisher,
		ProvideHub,
		ProvideSurfaceFactory,

		// Use cases
		ProvideDashboard,

		// Transport
		ProvideRateLimiter,
		ProvidePanelsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
