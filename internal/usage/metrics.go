package usage

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "prepstream"

// Collector はストリーミング生成のメトリクスを集める prometheus.Collector です。
type Collector struct {
	requests      *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	timeToFirst   *prometheus.HistogramVec
	activeStreams prometheus.Gauge
	events        *prometheus.CounterVec
}

// NewCollector は Collector を作成します。
func NewCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "generation_requests_total",
				Help:      "The number of finished generations by module and outcome.",
			}, []string{"module", "outcome"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "generation_tokens_total",
				Help:      "Tokens consumed by generations.",
			}, []string{"kind", "byok"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "generation_duration_seconds",
				Help:      "Time from stream start to the final value.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120, 300},
			}, []string{"module"},
		),
		timeToFirst: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "generation_time_to_first_token_seconds",
				Help:      "Time from stream start to the first forwarded content event.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			}, []string{"module"},
		),
		activeStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_streams",
				Help:      "Producers currently running in this process.",
			},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "stream_events_total",
				Help:      "Stream events produced by type.",
			}, []string{"type"},
		),
	}
}

// StreamStarted は実行中のプロデューサー数を1増やします。
func (c *Collector) StreamStarted() {
	c.activeStreams.Inc()
}

// StreamFinished は実行中のプロデューサー数を1減らします。
func (c *Collector) StreamFinished() {
	c.activeStreams.Dec()
}

// EventProduced はイベント種別ごとの件数を数えます。
func (c *Collector) EventProduced(eventType string) {
	c.events.WithLabelValues(eventType).Inc()
}

// TimeToFirstToken は初回 content イベントまでの時間を記録します。
func (c *Collector) TimeToFirstToken(module string, seconds float64) {
	c.timeToFirst.WithLabelValues(module).Observe(seconds)
}

func (c *Collector) observe(e Entry) {
	outcome := "completed"
	if e.Failed() {
		outcome = "error"
	}
	c.requests.WithLabelValues(e.Module, outcome).Inc()
	c.latency.WithLabelValues(e.Module).Observe(e.Latency.Seconds())

	byok := "false"
	if e.BYOK {
		byok = "true"
	}
	c.tokens.WithLabelValues("prompt", byok).Add(float64(e.Usage.PromptTokens))
	c.tokens.WithLabelValues("completion", byok).Add(float64(e.Usage.CompletionTokens))
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.tokens.Describe(ch)
	c.latency.Describe(ch)
	c.timeToFirst.Describe(ch)
	c.activeStreams.Describe(ch)
	c.events.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.tokens.Collect(ch)
	c.latency.Collect(ch)
	c.timeToFirst.Collect(ch)
	c.activeStreams.Collect(ch)
	c.events.Collect(ch)
}
