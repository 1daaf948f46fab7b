package api

import (
	"net/http"
	"time"

	models "TradeScout/internal/domain/models"
	xhttp "TradeScout/pkg/http"
	"TradeScout/pkg/util"

	"github.com/labstack/echo/v4"
)

func (h *OperatorHandler) ListAnalysis(c echo.Context) error {
	rows, err := h.operator.ListAnalysis(c.Request().Context())
	if err != nil {
		return h.fail(c, "list analysis", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OperatorHandler) GetAnalysis(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.operator.GetAnalysis(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, "get analysis", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *OperatorHandler) Mute(c echo.Context) error {
	req := &models.MuteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.decider.MuteFor(c.Request().Context(), req.Symbol, time.Duration(req.Minutes)*time.Minute, models.MuteReason(req.Reason))
	if err != nil {
		return h.fail(c, "mute", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *OperatorHandler) Unmute(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.decider.Unmute(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, "unmute", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *OperatorHandler) ListMuted(c echo.Context) error {
	rows, err := h.operator.ListMuted(c.Request().Context())
	if err != nil {
		return h.fail(c, "list muted", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OperatorHandler) ListObservations(c echo.Context) error {
	rows, err := h.operator.ListObservations(c.Request().Context())
	if err != nil {
		return h.fail(c, "list observations", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OperatorHandler) ListSignals(c echo.Context) error {
	req := &models.ListSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f := models.SignalFilter{
		Symbol:    util.NormalizeSymbol(req.Symbol),
		Direction: models.Direction(req.Direction),
		Status:    models.SignalStatus(req.Status),
		Limit:     req.Limit,
	}
	if req.Since != "" {
		since, ok := util.ParseTime(req.Since)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.NewError(http.StatusBadRequest, "since: cannot parse %q", req.Since))
		}
		f.Since = &since
	}
	rows, err := h.operator.ListSignals(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, "list signals", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OperatorHandler) GetSignal(c echo.Context) error {
	req := &models.SignalIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.operator.GetSignal(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "get signal", err)
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *OperatorHandler) Stats(c echo.Context) error {
	st, err := h.operator.Stats(c.Request().Context())
	if err != nil {
		return h.fail(c, "stats", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *OperatorHandler) RecordSignal(c echo.Context) error {
	req := &models.RecordSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.operator.RecordSignal(c.Request().Context(), &models.Signal{
		Symbol:            req.Symbol,
		Direction:         models.Direction(req.Direction),
		EntryPrice:        req.Entry,
		StopLoss:          req.StopLoss,
		TakeProfit1:       req.TakeProfit1,
		TakeProfit2:       req.TakeProfit2,
		TakeProfit3:       req.TakeProfit3,
		ConfluenceScore:   req.ConfluenceScore,
		ConfidencePercent: req.ConfidencePercent,
		TriggerReason:     req.TriggerReason,
	})
	if err != nil {
		return h.fail(c, "record signal", err)
	}
	return xhttp.CreatedResponse(c, s)
}

func (h *OperatorHandler) CloseSignal(c echo.Context) error {
	req := &models.CloseSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.operator.CloseSignal(c.Request().Context(), req.ID, models.SignalStatus(req.Status), req.Price)
	if err != nil {
		return h.fail(c, "close signal", err)
	}
	return xhttp.SuccessResponse(c, s)
}
