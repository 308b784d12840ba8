//go:build wireinject
// +build wireinject

package di

import (
	"mlass/pkg/config"
	"mlass/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideTelemetry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideCache,

		// Repositories
		ProvidePriceSource,
		ProvideModelRegistry,
		ProvideEventPublisher,
		ProvideSnapshotStore,

		// Services and use cases
		ProvideIdentityVerifier,
		ProvidePipeline,
		ProvideForecastUseCase,

		// HTTP
		ProvideObservability,
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
