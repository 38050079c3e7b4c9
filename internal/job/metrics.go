package job

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes recorded by Metrics.
const (
	OutcomeDone     = "done"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	jobs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	rateLimits    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watermark",
			Name:      "jobs_total",
			Help:      "Finished watermark jobs by media kind and outcome.",
		}, []string{"kind", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "watermark",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "watermark",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently running.",
		}),
		rateLimits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "watermark",
			Name:      "rate_limit_waits_total",
			Help:      "Flood-control waits honoured by the pipeline.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.jobs, m.stageDuration, m.inFlight, m.rateLimits)
	}
	return m
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) jobFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.jobs.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) jobRejected(kind string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(kind, OutcomeRejected).Inc()
}

func (m *Metrics) observeStage(stage State, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) rateLimited() {
	if m == nil {
		return
	}
	m.rateLimits.Inc()
}
