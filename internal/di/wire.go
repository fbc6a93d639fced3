//go:build wireinject
// +build wireinject

package di

import (
	"TeeRelay/pkg/config"
	"TeeRelay/pkg/server"

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
		ProvideRedis,
		ProvideSharedCache,
		ProvideResultCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideAuditStorage,
		ProvideAttestationStore,
		ProvideSpentSet,
		ProvideEventSink,

		// Events
		ProvideFeed,
		ProvideEventPipeline,

		// Chain and enclave
		ProvideLedger,
		ProvideEnclaveProxy,
		ProvideRegistry,

		// Relay pipeline
		ProvideVerifier,
		ProvideBuilder,
		ProvideGasPool,
		ProvideSponsor,
		ProvideQueue,
		ProvideSubmitter,
		ProvideLimiter,
		ProvideRelayService,
		ProvideAuditHandler,

		// Application server
		ProvideHealthChecks,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
