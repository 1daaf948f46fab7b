package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/domain/repository"
	domsvc "TradeScout/internal/domain/service"
	"TradeScout/internal/handler/api"
	internalrepo "TradeScout/internal/repository"
	"TradeScout/internal/scheduler"
	"TradeScout/internal/service/binance"
	"TradeScout/internal/service/notify"
	"TradeScout/internal/service/oracle"
	"TradeScout/internal/service/ratelimit"
	"TradeScout/internal/usecase"
	"TradeScout/pkg/cache"
	pkgch "TradeScout/pkg/clickhouse"
	"TradeScout/pkg/config"
	xhttp "TradeScout/pkg/http"
	pkgkafka "TradeScout/pkg/kafka"
	"TradeScout/pkg/logger"
	"TradeScout/pkg/metrics"
	"TradeScout/pkg/queue"
	"TradeScout/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOracleNotConfigured is returned by every analysis when oracle.url is empty.
var ErrOracleNotConfigured = errors.New("oracle.url is not configured")

// ProvideLogger creates the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegisterer returns the registry scraped by the /metrics route.
func ProvideRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

// ProvideMetrics creates a Prometheus metrics recorder, or a no-op one when
// metrics are disabled.
func ProvideMetrics(cfg *config.Config, reg prometheus.Registerer) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New(reg)
}

// ProvideRedisCache connects to Redis when the storage backend or the
// notification queue needs it. It returns nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if cfg.Storage.Backend != "redis" && cfg.Notify.Mode != "queue" {
		return nil, func() {}, nil
	}
	r := cfg.Storage.Redis
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(r.Host, r.Port),
		cache.WithRedisAuth(r.Password, r.DB),
		cache.WithRedisPool(r.PoolSize, 30*time.Second),
		cache.WithRedisPrefix(r.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCache returns the lock and report cache: Redis when connected so
// several processes share the per-symbol locks, memory otherwise.
func ProvideCache(rc *cache.RedisCache) (cache.Service, func()) {
	if rc != nil {
		return rc, func() {}
	}
	mc := cache.NewMemoryCache()
	return mc, func() { _ = mc.Close() }
}

// ProvideLocker narrows the cache to its lock operations.
func ProvideLocker(c cache.Service) repository.Locker {
	return c
}

// ProvideStores opens the configured storage backend.
func ProvideStores(cfg *config.Config, rc *cache.RedisCache) (repository.Stores, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	limit := cfg.Filter.ObservationLimit
	var (
		stores repository.Stores
		err    error
	)
	switch cfg.Storage.Backend {
	case "memory":
		stores = internalrepo.NewMemoryStore(limit)
	case "sqlite":
		stores, err = internalrepo.OpenSQLite(ctx, cfg.Storage.SQLitePath, limit)
	case "postgres":
		stores, err = internalrepo.OpenPostgres(ctx, cfg.Storage.PostgresDSN, limit)
	case "redis":
		if rc == nil {
			return nil, nil, errors.New("redis storage requires a redis connection")
		}
		stores = internalrepo.NewRedisStore(rc.Client(), cfg.Storage.Redis.Prefix, limit)
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("storage %s: %w", cfg.Storage.Backend, err)
	}
	return stores, func() { _ = stores.Close() }, nil
}

// ProvideMarketClient creates the Binance REST gateway.
func ProvideMarketClient(cfg *config.Config, lgr *logger.Logger) *binance.Client {
	return binance.New(cfg.Market.BaseURL, cfg.Market.Timeout,
		binance.WithMaxRetries(cfg.Market.MaxRetries),
		binance.WithLogger(lgr),
	)
}

// ProvideMarketData exposes the gateway to the scanner.
func ProvideMarketData(c *binance.Client) repository.MarketData {
	return c
}

// ProvidePriceStream creates the websocket price stream when enabled. The
// App runs it.
func ProvidePriceStream(cfg *config.Config, lgr *logger.Logger) *binance.PriceStream {
	s := cfg.Market.Stream
	if !s.Enabled {
		return nil
	}
	return binance.NewPriceStream(s.URL, s.ReconnectDelay, s.StaleAfter, lgr)
}

// ProvidePriceSource prefers fresh stream quotes and falls back to REST.
func ProvidePriceSource(stream *binance.PriceStream, rest *binance.Client) repository.PriceSource {
	if stream == nil {
		return rest
	}
	return binance.NewFallbackPriceSource(stream, rest)
}

// ProvideOracle creates the analysis oracle client.
func ProvideOracle(cfg *config.Config, lgr *logger.Logger) domsvc.Oracle {
	if cfg.Oracle.URL == "" {
		lgr.Warn("oracle.url is empty, every analysis will fail")
		return missingOracle{}
	}
	return oracle.New(cfg.Oracle.URL, cfg.Oracle.Timeout,
		oracle.WithPath(cfg.Oracle.Path),
		oracle.WithMaxRetries(cfg.Oracle.MaxRetries),
		oracle.WithLogger(lgr),
	)
}

type missingOracle struct{}

func (missingOracle) Analyze(context.Context, models.AnalysisContext) (*models.OracleResult, error) {
	return nil, ErrOracleNotConfigured
}

// ProvideNotificationQueue creates the Redis queue that delivers queued
// notifications through the webhook. It returns nil unless notify.mode is queue.
func ProvideNotificationQueue(cfg *config.Config, rc *cache.RedisCache, lgr *logger.Logger) (*queue.RedisQueue, error) {
	if cfg.Notify.Mode != "queue" {
		return nil, nil
	}
	if rc == nil {
		return nil, errors.New("notification queue requires a redis connection")
	}
	q := queue.NewRedisQueue(rc.Client(), queue.Config{
		Prefix:     cfg.Storage.Redis.Prefix + ":notify",
		Workers:    cfg.Notify.Queue.Workers,
		MaxRetries: cfg.Notify.Queue.RetryLimit,
		RetryBase:  cfg.Notify.Queue.RetryDelay,
	}, lgr)
	job := notify.NewSignalNotificationJob(notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	if err := q.Register(job); err != nil {
		return nil, err
	}
	return q, nil
}

// ProvideNotifier selects the delivery path for notify.mode.
func ProvideNotifier(cfg *config.Config, q *queue.RedisQueue) repository.Notifier {
	switch cfg.Notify.Mode {
	case "direct":
		return notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
	case "queue":
		return notify.NewQueueNotifier(q)
	}
	return notify.NopNotifier{}
}

// ProvideEventPublisher creates the signal event sink for events.backend.
func ProvideEventPublisher(cfg *config.Config, reg prometheus.Registerer) (repository.EventPublisher, func(), error) {
	var (
		pub repository.EventPublisher
		err error
	)
	switch cfg.Events.Backend {
	case "kafka":
		pub, err = provideKafkaEvents(cfg, reg)
	case "clickhouse":
		pub, err = provideClickHouseEvents(cfg)
	default:
		pub = internalrepo.NoopEventPublisher{}
	}
	if err != nil {
		return nil, nil, err
	}
	return pub, func() { _ = pub.Close() }, nil
}

func provideKafkaEvents(cfg *config.Config, reg prometheus.Registerer) (repository.EventPublisher, error) {
	k := cfg.Kafka
	var statsReg prometheus.Registerer
	if cfg.Metrics.Enabled {
		statsReg = reg
	}
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      k.Brokers,
		Topic:        k.Topic,
		RequiredAcks: k.RequiredAcks,
		Compression:  k.Compression,
		MaxAttempts:  k.Producer.MaxAttempts,
		BatchSize:    k.Producer.BatchSize,
		Linger:       k.Producer.Linger,
		WriteTimeout: k.Producer.WriteTimeout,
		Async:        k.Producer.Async,
	}, statsReg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaEventPublisher(producer), nil
}

func provideClickHouseEvents(cfg *config.Config) (repository.EventPublisher, error) {
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(pkgch.Config{
		Host:             ch.Host,
		Port:             ch.Port,
		Database:         ch.Database,
		User:             ch.User,
		Password:         ch.Password,
		UseHTTP:          ch.UseHTTP,
		AsyncInsert:      ch.AsyncInsert,
		WaitForAsync:     ch.WaitForAsync,
		DialTimeout:      ch.DialTimeout,
		ReadTimeout:      ch.ReadTimeout,
		MaxExecutionTime: ch.MaxExecutionTime,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sink, err := internalrepo.NewClickHouseEventSink(ctx, client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return sink, nil
}

// ProvideAnnouncer fans signal lifecycle changes out to events and notifications.
func ProvideAnnouncer(cfg *config.Config, events repository.EventPublisher, notifier repository.Notifier, m repository.Metrics, lgr *logger.Logger) *usecase.Announcer {
	return usecase.NewAnnouncer(events, notifier, cfg.Monitor.NotifyOnClose, m, lgr)
}

// ProvideOperator creates the signal ledger use case.
func ProvideOperator(cfg *config.Config, stores repository.Stores, locker repository.Locker, announcer *usecase.Announcer, m repository.Metrics, lgr *logger.Logger) *usecase.Operator {
	return usecase.NewOperator(stores.Analysis(), stores.Observations(), stores.Signals(), locker, announcer, cfg.Lock.TTL, nil, m, lgr)
}

// ProvideScanner creates the market scanner.
func ProvideScanner(cfg *config.Config, market repository.MarketData, m repository.Metrics, lgr *logger.Logger) *usecase.Scanner {
	s := cfg.Scanner
	return usecase.NewScanner(market, usecase.ScannerConfig{
		QuoteAsset:      cfg.Market.QuoteAsset,
		Blacklist:       cfg.Market.Blacklist,
		MinVolumeUSD:    s.MinVolumeUSD,
		MinChange24hPct: s.MinChange24hPct,
		MinChange4hPct:  s.MinChange4hPct,
		MinRVOL:         s.MinRVOL,
		MaxCandidates:   s.MaxCandidates,
		Limit:           s.Limit,
		PacingDelay:     cfg.Market.PacingDelay,
	}, m, lgr)
}

// ProvideSmartFilter creates the re-analysis filter.
func ProvideSmartFilter(cfg *config.Config, stores repository.Stores, m repository.Metrics, lgr *logger.Logger) *usecase.SmartFilter {
	return usecase.NewSmartFilter(stores.Analysis(), stores.Observations(), usecase.FilterConfig{
		ExpireAfter:   cfg.Filter.ExpireAfter,
		PriceDeltaPct: cfg.Filter.PriceDeltaPct,
	}, nil, m, lgr)
}

// ProvideGatekeeper creates the signal gatekeeper.
func ProvideGatekeeper(stores repository.Stores, announcer *usecase.Announcer, m repository.Metrics, lgr *logger.Logger) *usecase.Gatekeeper {
	return usecase.NewGatekeeper(stores.Signals(), announcer, nil, m, lgr)
}

// ProvideDecider creates the confidence and mute decision use case.
func ProvideDecider(cfg *config.Config, stores repository.Stores, operator *usecase.Operator, m repository.Metrics, lgr *logger.Logger) *usecase.Decider {
	d := cfg.Decision
	return usecase.NewDecider(stores.Analysis(), operator, usecase.DecisionConfig{
		ConfidenceThreshold: d.ConfidenceThreshold,
		MuteDuration:        d.MuteDuration,
		MaxLeverage:         d.MaxLeverage,
		RiskPct:             d.RiskPerTrade,
		PortfolioValue:      d.PortfolioValue,
		MinRewardRisk:       d.MinRewardRisk,
	}, nil, m, lgr)
}

// ProvideMonitor creates the lifecycle monitor.
func ProvideMonitor(cfg *config.Config, stores repository.Stores, prices repository.PriceSource, operator *usecase.Operator, announcer *usecase.Announcer, m repository.Metrics, lgr *logger.Logger) *usecase.Monitor {
	return usecase.NewMonitor(stores.Signals(), prices, operator, announcer, cfg.Monitor.ExpireDaily, nil, m, lgr)
}

// ProvidePipeline creates the scan cycle.
func ProvidePipeline(
	cfg *config.Config,
	scanner *usecase.Scanner,
	filter *usecase.SmartFilter,
	gate *usecase.Gatekeeper,
	oracle domsvc.Oracle,
	decider *usecase.Decider,
	announcer *usecase.Announcer,
	c cache.Service,
	m repository.Metrics,
	lgr *logger.Logger,
) *usecase.Pipeline {
	return usecase.NewPipeline(scanner, filter, gate, oracle, decider, announcer, c, cfg.Lock.TTL, nil, m, lgr)
}

// ProvideScheduler registers the scan and monitor tasks, both stopped.
func ProvideScheduler(cfg *config.Config, pipeline *usecase.Pipeline, monitor *usecase.Monitor, lgr *logger.Logger) (*scheduler.Scheduler, error) {
	s := scheduler.New(lgr)
	if _, err := s.Register(scheduler.TaskScan, cfg.Scanner.Interval, func(ctx context.Context) error {
		_, err := pipeline.RunCycle(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if _, err := s.Register(scheduler.TaskMonitor, cfg.Monitor.Interval, func(ctx context.Context) error {
		_, err := monitor.RunOnce(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// ProvideLimiter throttles manual triggers per client.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	n := cfg.Server.TriggersPerMinute
	return ratelimit.New(n, n)
}

// ProvideHandler creates the operator API handler.
func ProvideHandler(
	pipeline *usecase.Pipeline,
	operator *usecase.Operator,
	decider *usecase.Decider,
	monitor *usecase.Monitor,
	tasks *scheduler.Scheduler,
	limiter *ratelimit.Limiter,
	lgr *logger.Logger,
) xhttp.Handler {
	return api.NewOperatorHandler(pipeline, operator, decider, monitor, tasks, limiter, lgr)
}

// ProvideHTTPServer creates the echo server with the operator routes.
func ProvideHTTPServer(cfg *config.Config, h xhttp.Handler, reg prometheus.Registerer, lgr *logger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		xhttp.WithLogger(lgr),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	tasks *scheduler.Scheduler,
	httpServer *xhttp.Server,
	stream *binance.PriceStream,
	q *queue.RedisQueue,
) *server.App {
	return server.New(cfg, lgr, tasks, httpServer, stream, q)
}
