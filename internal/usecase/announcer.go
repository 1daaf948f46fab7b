package usecase

import (
	"context"
	"time"

	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"
	"TradeScout/pkg/logger"
)

// Announcer forwards signal lifecycle changes to the events backend and the
// notification channel. Delivery failures are logged and never fail the caller.
type Announcer struct {
	events        domrepo.EventPublisher
	notifier      domrepo.Notifier
	notifyOnClose bool
	metrics       domrepo.Metrics
	logger        *logger.Logger
}

// NewAnnouncer builds an announcer. events and notifier may be nil.
func NewAnnouncer(events domrepo.EventPublisher, notifier domrepo.Notifier, notifyOnClose bool, metrics domrepo.Metrics, lgr *logger.Logger) *Announcer {
	return &Announcer{
		events:        events,
		notifier:      notifier,
		notifyOnClose: notifyOnClose,
		metrics:       metrics,
		logger:        lgr.With(logger.String("component", "announcer")),
	}
}

// SignalCreated publishes the creation event.
func (a *Announcer) SignalCreated(ctx context.Context, s *models.Signal) {
	a.publish(ctx, models.NewCreatedEvent(s))
}

// NotifySignal sends the new-signal message.
func (a *Announcer) NotifySignal(ctx context.Context, s *models.Signal) error {
	if a.notifier == nil {
		return nil
	}
	if err := a.notifier.Notify(ctx, models.NewSignalNotification(s)); err != nil {
		a.metrics.RecordError("notify")
		a.logger.Warn("signal notification failed", logger.String("symbol", s.Symbol), logger.Error(err))
		return err
	}
	return nil
}

// StatusChanged publishes the transition event and, when enabled, a notification.
func (a *Announcer) StatusChanged(ctx context.Context, s *models.Signal, from models.SignalStatus, price float64, at time.Time) {
	a.metrics.RecordTransition(string(from), string(s.Status))
	a.publish(ctx, models.NewStatusEvent(s, from, price, at))
	if !a.notifyOnClose || a.notifier == nil {
		return
	}
	n := models.NewSignalNotification(s)
	n.Kind = models.NotifyStatusChange
	n.Price = price
	if err := a.notifier.Notify(ctx, n); err != nil {
		a.metrics.RecordError("notify")
		a.logger.Warn("status notification failed", logger.String("signal_id", s.ID), logger.Error(err))
	}
}

func (a *Announcer) publish(ctx context.Context, ev models.SignalEvent) {
	if a.events == nil {
		return
	}
	if err := a.events.PublishSignalEvent(ctx, ev); err != nil {
		a.metrics.RecordError("event_publish")
		a.logger.Warn("publish signal event failed",
			logger.String("type", ev.Type),
			logger.String("signal_id", ev.SignalID),
			logger.Error(err))
	}
}
