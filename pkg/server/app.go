package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"TradeScout/internal/scheduler"
	"TradeScout/internal/service/binance"
	"TradeScout/pkg/config"
	xhttp "TradeScout/pkg/http"
	"TradeScout/pkg/logger"
	"TradeScout/pkg/queue"
)

// App encapsulates the daemon lifecycle: background workers, the periodic
// tasks and the operator API.
type App struct {
	cfg        *config.Config
	logger     *logger.Logger
	tasks      *scheduler.Scheduler
	httpServer *xhttp.Server
	stream     *binance.PriceStream
	notifyQ    *queue.RedisQueue

	wg sync.WaitGroup
}

// New creates the App. stream and notifyQ are nil when disabled.
func New(
	cfg *config.Config,
	lgr *logger.Logger,
	tasks *scheduler.Scheduler,
	httpServer *xhttp.Server,
	stream *binance.PriceStream,
	notifyQ *queue.RedisQueue,
) *App {
	return &App{
		cfg:        cfg,
		logger:     lgr.With(logger.String("component", "app")),
		tasks:      tasks,
		httpServer: httpServer,
		stream:     stream,
		notifyQ:    notifyQ,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.shutdown(ctx)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	a.logger.Info("shutdown signal received", logger.String("signal", sig.String()))

	cancel()
	a.shutdown(context.Background())
	return nil
}

func (a *App) start(ctx context.Context) error {
	if a.stream != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.stream.Run(ctx)
		}()
		a.logger.Info("price stream started", logger.String("url", a.cfg.Market.Stream.URL))
	}

	if a.notifyQ != nil {
		if err := a.notifyQ.Start(ctx); err != nil {
			return err
		}
		a.logger.Info("notification queue started", logger.Int("workers", a.cfg.Notify.Queue.Workers))
	}

	a.tasks.Start()
	autostart := map[string]bool{
		scheduler.TaskScan:    a.cfg.Scanner.Autostart,
		scheduler.TaskMonitor: a.cfg.Monitor.Autostart,
	}
	for name, on := range autostart {
		if !on {
			continue
		}
		task, ok := a.tasks.Task(name)
		if !ok {
			continue
		}
		if err := task.Start(); err != nil {
			return err
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", logger.Error(err))
		return err
	}
	return nil
}

// shutdown stops intake first, then the workers. Infrastructure clients are
// closed by the injector's cleanup.
func (a *App) shutdown(ctx context.Context) {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", logger.Error(err))
	}

	a.tasks.Stop()

	if a.notifyQ != nil {
		if err := a.notifyQ.Stop(shutdownCtx); err != nil {
			a.logger.Warn("notification queue stop error", logger.Error(err))
		}
	}

	a.wg.Wait()
	a.logger.Info("shutdown complete")
}
