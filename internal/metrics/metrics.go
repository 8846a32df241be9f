package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quiz-assessment-service/internal/domain"
)

// Collector implements app.Metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	started         *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	persistFailures prometheus.Counter
	scoreRatio      prometheus.Histogram
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_attempts_started_total",
				Help: "Total number of quiz attempts started",
			},
			[]string{"quiz"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_submissions_total",
				Help: "Total number of finalized attempts by origin and outcome",
			},
			[]string{"origin", "outcome"},
		),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_persist_failures_total",
			Help: "Submissions scored locally but not confirmed by the store",
		}),
		scoreRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiz_attempt_score_ratio",
			Help:    "Score as a fraction of total possible marks",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		}),
	}
	c.registry.MustRegister(
		c.started,
		c.submissions,
		c.persistFailures,
		c.scoreRatio,
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collector) AttemptStarted(quizID string) {
	c.started.WithLabelValues(quizID).Inc()
}

func (c *Collector) AttemptSubmitted(attempt domain.Attempt, persistErr error) {
	origin := "manual"
	if attempt.AutoSubmitted {
		origin = "timeout"
	}
	outcome := "failed"
	if attempt.Passed {
		outcome = "passed"
	}
	c.submissions.WithLabelValues(origin, outcome).Inc()
	if persistErr != nil {
		c.persistFailures.Inc()
	}
	if attempt.TotalPossible > 0 {
		c.scoreRatio.Observe(float64(attempt.Score) / float64(attempt.TotalPossible))
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
