package metrics

import (
	"TradeScout/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	scanStage   *prometheus.GaugeVec
	filter      *prometheus.CounterVec
	gate        *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	signals     *prometheus.GaugeVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New creates a recorder registered with reg (prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		scanStage: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradescout_scan_stage_symbols",
				Help: "Symbols remaining after each scanner funnel stage in the last scan",
			},
			[]string{"stage"},
		),
		filter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradescout_filter_decisions_total",
				Help: "Smart filter decisions by outcome and reason",
			},
			[]string{"decision", "reason"},
		),
		gate: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradescout_gate_results_total",
				Help: "Gatekeeper results per direction",
			},
			[]string{"direction", "result"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradescout_decisions_total",
				Help: "Confidence decisions by action",
			},
			[]string{"action"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradescout_signal_transitions_total",
				Help: "Signal status transitions",
			},
			[]string{"from", "to"},
		),
		signals: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradescout_signals",
				Help: "Signal counts derived from the signal store",
			},
			[]string{"state"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradescout_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradescout_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordScanStage(stage string, count int) {
	r.scanStage.WithLabelValues(stage).Set(float64(count))
}

func (r *Recorder) RecordFilterDecision(decision, reason string) {
	r.filter.WithLabelValues(decision, reason).Inc()
}

func (r *Recorder) RecordGateResult(direction, result string) {
	r.gate.WithLabelValues(direction, result).Inc()
}

func (r *Recorder) RecordDecision(action string) {
	r.decisions.WithLabelValues(action).Inc()
}

func (r *Recorder) RecordTransition(from, to string) {
	r.transitions.WithLabelValues(from, to).Inc()
}

// RecordSignalStats publishes the derived store statistics as gauges.
func (r *Recorder) RecordSignalStats(st models.SignalStats) {
	r.signals.WithLabelValues("total").Set(float64(st.Total))
	r.signals.WithLabelValues("wins").Set(float64(st.Wins))
	r.signals.WithLabelValues("losses").Set(float64(st.Losses))
	r.signals.WithLabelValues("active").Set(float64(st.Active))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordScanStage(string, int)          {}
func (Nop) RecordFilterDecision(string, string)  {}
func (Nop) RecordGateResult(string, string)      {}
func (Nop) RecordDecision(string)                {}
func (Nop) RecordTransition(string, string)      {}
func (Nop) RecordSignalStats(models.SignalStats) {}
func (Nop) RecordError(string)                   {}
func (Nop) RecordLatency(string, float64)        {}
