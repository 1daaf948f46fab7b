package api

import (
	"context"
	"errors"
	"net/http"

	domrepo "TradeScout/internal/domain/repository"
	"TradeScout/internal/scheduler"
	"TradeScout/internal/service/ratelimit"
	"TradeScout/internal/usecase"
	xhttp "TradeScout/pkg/http"
	xlogger "TradeScout/pkg/logger"

	"github.com/labstack/echo/v4"
)

// OperatorHandler exposes the operator surface: manual triggers, analysis
// memory, mutes, the signal ledger and the periodic task handles.
type OperatorHandler struct {
	pipeline *usecase.Pipeline
	operator *usecase.Operator
	decider  *usecase.Decider
	monitor  *usecase.Monitor
	tasks    *scheduler.Scheduler
	limiter  *ratelimit.Limiter
	logger   *xlogger.Logger
}

func NewOperatorHandler(
	pipeline *usecase.Pipeline,
	operator *usecase.Operator,
	decider *usecase.Decider,
	monitor *usecase.Monitor,
	tasks *scheduler.Scheduler,
	limiter *ratelimit.Limiter,
	logger *xlogger.Logger,
) *OperatorHandler {
	return &OperatorHandler{
		pipeline: pipeline,
		operator: operator,
		decider:  decider,
		monitor:  monitor,
		tasks:    tasks,
		limiter:  limiter,
		logger:   logger.With(xlogger.String("component", "api")),
	}
}

func (h *OperatorHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.POST("/scan", h.TriggerScan)
	g.GET("/scan/last", h.LastScan)

	g.GET("/analysis", h.ListAnalysis)
	g.GET("/analysis/:symbol", h.GetAnalysis)
	g.POST("/analysis/:symbol/mute", h.Mute)
	g.DELETE("/analysis/:symbol/mute", h.Unmute)
	g.GET("/muted", h.ListMuted)
	g.GET("/observations", h.ListObservations)

	g.GET("/signals", h.ListSignals)
	g.GET("/signals/stats", h.Stats)
	g.GET("/signals/:id", h.GetSignal)
	g.POST("/signals", h.RecordSignal)
	g.POST("/signals/:id/close", h.CloseSignal)

	g.POST("/monitor/run", h.RunMonitor)
	g.POST("/monitor/start", h.StartMonitor)
	g.POST("/monitor/stop", h.StopMonitor)
	g.GET("/monitor/status", h.MonitorStatus)
	g.GET("/tasks", h.ListTasks)
}

func (h *OperatorHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// TriggerScan starts a scan cycle in the background. The cycle report is
// available from /api/scan/last once it finishes.
func (h *OperatorHandler) TriggerScan(c echo.Context) error {
	if !h.limiter.Allow(c.RealIP() + ":scan") {
		return xhttp.AppErrorResponse(c, xhttp.NewError(http.StatusTooManyRequests, "manual scan triggers are rate limited"))
	}
	task, err := h.task(scheduler.TaskScan)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	if task.Status().InFlight {
		return xhttp.AppErrorResponse(c, xhttp.NewError(http.StatusConflict, "a scan cycle is already running"))
	}
	ctx := context.WithoutCancel(c.Request().Context())
	go func() {
		if err := task.RunNow(ctx); err != nil {
			h.logger.Warn("manual scan failed", xlogger.Error(err))
		}
	}()
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]bool{"triggered": true})
}

func (h *OperatorHandler) LastScan(c echo.Context) error {
	report, err := h.pipeline.LastReport(c.Request().Context())
	if err != nil {
		return h.fail(c, "last scan", err)
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *OperatorHandler) RunMonitor(c echo.Context) error {
	if !h.limiter.Allow(c.RealIP() + ":monitor") {
		return xhttp.AppErrorResponse(c, xhttp.NewError(http.StatusTooManyRequests, "manual monitor runs are rate limited"))
	}
	report, err := h.monitor.RunOnce(c.Request().Context())
	if err != nil {
		return h.fail(c, "monitor run", err)
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *OperatorHandler) StartMonitor(c echo.Context) error {
	task, err := h.task(scheduler.TaskMonitor)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	if err := task.Start(); err != nil {
		return h.fail(c, "monitor start", err)
	}
	return xhttp.SuccessResponse(c, task.Status())
}

func (h *OperatorHandler) StopMonitor(c echo.Context) error {
	task, err := h.task(scheduler.TaskMonitor)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	task.Stop()
	return xhttp.SuccessResponse(c, task.Status())
}

func (h *OperatorHandler) MonitorStatus(c echo.Context) error {
	task, err := h.task(scheduler.TaskMonitor)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, task.Status())
}

func (h *OperatorHandler) ListTasks(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.tasks.Statuses())
}

func (h *OperatorHandler) task(name string) (*scheduler.Task, error) {
	t, ok := h.tasks.Task(name)
	if !ok {
		return nil, xhttp.NewError(http.StatusNotFound, "task %s is not registered", name)
	}
	return t, nil
}

// fail maps a use case error onto the API error envelope.
func (h *OperatorHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.Error(err))
	} else {
		h.logger.Debug(op+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.WrapError(http.StatusNotFound, err, "")
	case errors.Is(err, domrepo.ErrDailyLimit),
		errors.Is(err, domrepo.ErrInvalidTransition),
		errors.Is(err, domrepo.ErrImmutableField),
		errors.Is(err, domrepo.ErrBusy),
		errors.Is(err, scheduler.ErrRunInProgress):
		return xhttp.WrapError(http.StatusConflict, err, "")
	case errors.Is(err, domrepo.ErrInvalidSignal),
		errors.Is(err, domrepo.ErrMuteInPast),
		errors.Is(err, domrepo.ErrDegenerateStop):
		return xhttp.WrapError(http.StatusBadRequest, err, "")
	case errors.Is(err, domrepo.ErrRateLimited):
		return xhttp.WrapError(http.StatusBadGateway, err, "market data provider is rate limiting")
	}
	return xhttp.WrapError(http.StatusInternalServerError, err, "internal error")
}
