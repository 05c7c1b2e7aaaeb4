package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the front end.
type Metrics struct {
	RecordingEvents *prometheus.CounterVec
	Exchanges       *prometheus.CounterVec
	ExchangeLatency prometheus.Histogram
	TranscriptTurns prometheus.Gauge
	WSMessages      *prometheus.CounterVec

	stageWindow *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RecordingEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_events_total",
			Help:      "Recording lifecycle events by type.",
		}, []string{"event"}),
		Exchanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Backend exchanges by result.",
		}, []string{"result"}),
		ExchangeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_latency_ms",
			Help:      "Full exchange round-trip latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		TranscriptTurns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcript_turns",
			Help:      "Number of turns currently held in the transcript.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Panel websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		stageWindow: newStageWindow(256),
	}
}

// ObserveExchange records one finished exchange with its result label and
// round-trip latency.
func (m *Metrics) ObserveExchange(result string, d time.Duration) {
	m.Exchanges.WithLabelValues(result).Inc()
	ms := float64(d.Milliseconds())
	m.ExchangeLatency.Observe(ms)
	m.stageWindow.Observe(StageRoundTrip, ms)
	if result != "ok" {
		m.stageWindow.ObserveIndicator(result)
	}
}

// ObserveStage records one pipeline stage latency in the sliding window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageWindow.Observe(stage, float64(d.Milliseconds()))
}

// LatencySnapshot exposes the recent-latency window for the perf endpoint.
func (m *Metrics) LatencySnapshot() StageSnapshot {
	return m.stageWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
