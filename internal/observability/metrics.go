package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the pipeline.
type Metrics struct {
	ActiveGenerations prometheus.Gauge
	KnownSessions     prometheus.Gauge
	TurnsTotal        *prometheus.CounterVec
	GenerationsTotal  *prometheus.CounterVec
	TokensTotal       prometheus.Counter
	AudioJobsTotal    prometheus.Counter
	BackendErrors     *prometheus.CounterVec
	MonitorPublishes  *prometheus.CounterVec
	FirstTokenLatency prometheus.Histogram

	Stages *StageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveGenerations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_generations",
			Help:      "Number of in-flight generation streams.",
		}),
		KnownSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_sessions",
			Help:      "Number of user sessions held by the registry.",
		}),
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turn detector outcomes by result.",
		}, []string{"result"}),
		GenerationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation streams by final outcome.",
		}, []string{"outcome"}),
		TokensTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens received from the generation backend.",
		}),
		AudioJobsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_jobs_total",
			Help:      "Sentences enqueued for speech synthesis.",
		}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Generation backend failures by stage.",
		}, []string{"stage"}),
		MonitorPublishes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_publishes_total",
			Help:      "Monitoring records published by sink and status.",
		}, []string{"sink", "status"}),
		FirstTokenLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_token_latency_ms",
			Help:      "Latency from finalized turn to first backend token in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 700, 1000, 1500, 2500},
		}),
		Stages: NewStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstTokenLatency(d time.Duration) {
	m.FirstTokenLatency.Observe(float64(d.Milliseconds()))
	m.Stages.Observe(StageFirstToken, float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
