//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FinVerdict/pkg/config"
	"FinVerdict/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideRedisClient,
	ProvideCalibrationCache,
	ProvideClickHouseClient,
	ProvideVerdictPublisher,
)

var engineSet = wire.NewSet(
	ProvideRulebook,
	ProvideMetaBrainPort,
	ProvideCalibrationPort,
	ProvideHealthPort,
	ProvideEngine,
)

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		engineSet,
		ProvideHub,
		ProvideVerdictService,
		ProvideQueue,
		ProvideRateLimiter,
		ProvideVerdictHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
