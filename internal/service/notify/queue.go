package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/domain/repository"
	"TradeScout/pkg/queue"
)

// JobKind identifies queued notifications.
const JobKind = "signal_notification"

// QueueNotifier defers delivery to the job queue so webhook outages are
// retried by the queue instead of the analysis cycle.
type QueueNotifier struct {
	pub queue.Publisher
}

// NewQueueNotifier enqueues through pub.
func NewQueueNotifier(pub queue.Publisher) *QueueNotifier {
	return &QueueNotifier{pub: pub}
}

func (q *QueueNotifier) Notify(ctx context.Context, n *models.Notification) error {
	if n.Text == "" {
		n.Text = Format(n)
	}
	if err := q.pub.Publish(ctx, JobKind, n); err != nil {
		return fmt.Errorf("enqueue notification %s: %w", n.Symbol, err)
	}
	return nil
}

// SignalNotificationJob consumes queued notifications and hands them to the
// delivering notifier.
type SignalNotificationJob struct {
	notifier repository.Notifier
}

// NewSignalNotificationJob delivers through notifier.
func NewSignalNotificationJob(notifier repository.Notifier) *SignalNotificationJob {
	return &SignalNotificationJob{notifier: notifier}
}

func (j *SignalNotificationJob) Kind() string { return JobKind }

func (j *SignalNotificationJob) Handle(ctx context.Context, payload json.RawMessage) error {
	n, err := queue.Decode[models.Notification](payload)
	if err != nil {
		return err
	}
	return j.notifier.Notify(ctx, n)
}
