package notify

import (
	"context"
	"fmt"
	"time"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/domain/repository"
	xhttp "TradeScout/pkg/http"
	"TradeScout/pkg/util"
)

const (
	colorLong   = 0x2ecc71
	colorShort  = 0xe74c3c
	colorUpdate = 0x95a5a6
)

var (
	_ repository.Notifier = (*WebhookNotifier)(nil)
	_ repository.Notifier = (*QueueNotifier)(nil)
	_ repository.Notifier = NopNotifier{}
)

// WebhookNotifier posts Discord-compatible messages to a webhook URL.
type WebhookNotifier struct {
	url    string
	client *xhttp.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a notifier for url.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithUserAgent("tradescout")),
		now:    time.Now,
	}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields,omitempty"`
	Footer    *embedFooter `json:"footer,omitempty"`
	Timestamp string       `json:"timestamp"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type webhookPayload struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds"`
}

// Notify delivers n. A 4xx/5xx answer from the webhook is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, n *models.Notification) error {
	if w.url == "" {
		return fmt.Errorf("webhook url not configured")
	}
	if err := w.client.PostJSON(ctx, w.url, w.payload(n), nil); err != nil {
		return fmt.Errorf("webhook notify %s: %w", n.Symbol, err)
	}
	return nil
}

func (w *WebhookNotifier) payload(n *models.Notification) webhookPayload {
	text := n.Text
	if text == "" {
		text = Format(n)
	}
	e := embed{
		Title:     fmt.Sprintf("%s %s", n.Direction, n.Symbol),
		Color:     colorLong,
		Timestamp: w.now().UTC().Format(time.RFC3339),
		Footer:    &embedFooter{Text: "TradeScout | " + n.SignalID},
	}
	if n.Direction == models.DirectionShort {
		e.Color = colorShort
	}
	if n.Kind == models.NotifyStatusChange {
		e.Color = colorUpdate
		e.Title = fmt.Sprintf("%s %s", n.Symbol, n.Status)
		e.Fields = []embedField{
			{Name: "Price", Value: util.FormatPrice(n.Price), Inline: true},
			{Name: "Entry", Value: util.FormatPrice(n.Entry), Inline: true},
		}
		return webhookPayload{Content: text, Embeds: []embed{e}}
	}

	e.Fields = []embedField{
		{Name: "Entry", Value: util.FormatPrice(n.Entry), Inline: true},
		{Name: "Stop loss", Value: util.FormatPrice(n.StopLoss), Inline: true},
		{Name: "TP1", Value: util.FormatPrice(n.TakeProfit1), Inline: true},
	}
	if n.TakeProfit2 != nil {
		e.Fields = append(e.Fields, embedField{Name: "TP2", Value: util.FormatPrice(*n.TakeProfit2), Inline: true})
	}
	if n.TakeProfit3 != nil {
		e.Fields = append(e.Fields, embedField{Name: "TP3", Value: util.FormatPrice(*n.TakeProfit3), Inline: true})
	}
	e.Fields = append(e.Fields,
		embedField{Name: "Leverage", Value: fmt.Sprintf("%.1fx", n.Leverage), Inline: true},
		embedField{Name: "Confidence", Value: fmt.Sprintf("%d%% (%s)", n.ConfidencePercent, n.ConfluenceScore), Inline: true},
	)
	return webhookPayload{Content: text, Embeds: []embed{e}}
}

// NopNotifier drops notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *models.Notification) error { return nil }
