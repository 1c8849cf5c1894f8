package ai

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - коллекторы AI запросов. nil *Metrics ничего не делает.
type Metrics struct {
	requests         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	promptTokens     *prometheus.HistogramVec
	completionTokens *prometheus.HistogramVec
}

// NewMetrics регистрирует коллекторы в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "improv_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		}, []string{"model", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "improv_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
		promptTokens: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "improv_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		}, []string{"model"}),
		completionTokens: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "improv_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(10, 10, 20),
		}, []string{"model"}),
	}
}

func (m *Metrics) request(model, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(model, status).Inc()
}

func (m *Metrics) observe(model string, d time.Duration, usage UsageInfo) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(model).Observe(d.Seconds())
	if usage.TotalTokens > 0 {
		m.promptTokens.WithLabelValues(model).Observe(float64(usage.PromptTokens))
		m.completionTokens.WithLabelValues(model).Observe(float64(usage.CompletionTokens))
	}
}
