package notify

import (
	"fmt"
	"strings"

	"TradeScout/internal/domain/models"
	"TradeScout/pkg/util"
)

// FormatSignalMessage renders a new-signal notification as plain text.
func FormatSignalMessage(n *models.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", n.Direction, n.Symbol)
	fmt.Fprintf(&b, "Entry: %s\n", util.FormatPrice(n.Entry))
	fmt.Fprintf(&b, "SL: %s\n", util.FormatPrice(n.StopLoss))
	fmt.Fprintf(&b, "TP1: %s\n", util.FormatPrice(n.TakeProfit1))
	if n.TakeProfit2 != nil {
		fmt.Fprintf(&b, "TP2: %s\n", util.FormatPrice(*n.TakeProfit2))
	}
	if n.TakeProfit3 != nil {
		fmt.Fprintf(&b, "TP3: %s\n", util.FormatPrice(*n.TakeProfit3))
	}
	if n.Leverage > 0 {
		fmt.Fprintf(&b, "Leverage: %.1fx\n", n.Leverage)
	}
	fmt.Fprintf(&b, "Confidence: %d%% (%s)", n.ConfidencePercent, n.ConfluenceScore)
	return b.String()
}

// FormatStatusMessage renders a lifecycle update.
func FormatStatusMessage(n *models.Notification) string {
	return fmt.Sprintf("%s %s %s at %s (entry %s)",
		n.Symbol, n.Direction, n.Status, util.FormatPrice(n.Price), util.FormatPrice(n.Entry))
}

// Format picks the renderer for n.Kind.
func Format(n *models.Notification) string {
	if n.Kind == models.NotifyStatusChange {
		return FormatStatusMessage(n)
	}
	return FormatSignalMessage(n)
}
