package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - prometheus коллекторы уровня сцены. nil *Metrics ничего не делает.
type Metrics struct {
	decisions             *prometheus.CounterVec
	decisionLatency       *prometheus.HistogramVec
	sessions              prometheus.Counter
	participationVariance prometheus.Histogram
	generationFallbacks   prometheus.Counter
	speechFailures        prometheus.Counter
	activeScenes          prometheus.Gauge
	linesCommitted        prometheus.Counter
}

// NewMetrics регистрирует коллекторы в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "improv_speaker_decisions_total",
			Help: "Speaker selections by strategy and outcome (primary/fallback).",
		}, []string{"strategy", "outcome"}),
		decisionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "improv_speaker_decision_duration_seconds",
			Help:    "Speaker selection latency.",
			Buckets: []float64{.001, .01, .1, .5, 1, 2, 3, 5, 8, 10},
		}, []string{"strategy"}),
		sessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "improv_sessions_completed_total",
			Help: "Scenes whose monitor session was closed.",
		}),
		participationVariance: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "improv_session_participation_variance",
			Help:    "Variance of participation percentages per finished session.",
			Buckets: prometheus.LinearBuckets(0, 50, 10),
		}),
		generationFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "improv_generation_fallbacks_total",
			Help: "Lines replaced by the catchphrase fallback.",
		}),
		speechFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "improv_speech_failures_total",
			Help: "Speech output calls that failed.",
		}),
		activeScenes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "improv_active_scenes",
			Help: "Scenes currently running.",
		}),
		linesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "improv_lines_committed_total",
			Help: "Dialogue lines committed across all scenes.",
		}),
	}
}

func (m *Metrics) ObserveDecision(strategy string, primary bool, latency time.Duration) {
	if m == nil {
		return
	}
	outcome := "primary"
	if !primary {
		outcome = "fallback"
	}
	m.decisions.WithLabelValues(strategy, outcome).Inc()
	m.decisionLatency.WithLabelValues(strategy).Observe(latency.Seconds())
}

func (m *Metrics) ObserveSession(variance float64) {
	if m == nil {
		return
	}
	m.sessions.Inc()
	m.participationVariance.Observe(variance)
}

func (m *Metrics) IncGenerationFallback() {
	if m != nil {
		m.generationFallbacks.Inc()
	}
}

func (m *Metrics) IncSpeechFailure() {
	if m != nil {
		m.speechFailures.Inc()
	}
}

func (m *Metrics) IncLinesCommitted() {
	if m != nil {
		m.linesCommitted.Inc()
	}
}

func (m *Metrics) SceneStarted() {
	if m != nil {
		m.activeScenes.Inc()
	}
}

func (m *Metrics) SceneFinished() {
	if m != nil {
		m.activeScenes.Dec()
	}
}
