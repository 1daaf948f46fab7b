package di

import (
	"TradeScout/internal/usecase"
	"TradeScout/pkg/queue"

	"github.com/google/wire"
)

// Console is what the operator CLI needs to run commands against the
// configured storage without the daemon.
type Console struct {
	Pipeline *usecase.Pipeline
	Operator *usecase.Operator
	Decider  *usecase.Decider
	Monitor  *usecase.Monitor
	Queue    *queue.RedisQueue
}

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideRegisterer,
	ProvideMetrics,
	ProvideRedisCache,
	ProvideCache,
	ProvideLocker,
	ProvideStores,
	ProvideMarketClient,
	ProvideMarketData,
	ProvidePriceStream,
	ProvidePriceSource,
	ProvideOracle,
	ProvideNotificationQueue,
	ProvideNotifier,
	ProvideEventPublisher,
)

var usecaseSet = wire.NewSet(
	ProvideAnnouncer,
	ProvideOperator,
	ProvideScanner,
	ProvideSmartFilter,
	ProvideGatekeeper,
	ProvideDecider,
	ProvideMonitor,
	ProvidePipeline,
)
