package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Rule outcomes used as the "outcome" metric label.
const (
	outcomeApplied = "applied"
	outcomeInvalid = "invalid"
	outcomeUnknown = "unknown"
	outcomeFailed  = "failed"
)

// Metrics holds the Prometheus collectors updated by the executor.
type Metrics struct {
	applications *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rows         *prometheus.GaugeVec
	passes       prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered. Collectors already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		applications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabclean",
			Name:      "rule_applications_total",
			Help:      "Rules processed by the executor, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tabclean",
			Name:      "rule_duration_seconds",
			Help:      "Time spent applying a single rule.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"operation"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tabclean",
			Name:      "pass_rows",
			Help:      "Row count of the most recent pass, before and after cleaning.",
		}, []string{"stage"}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tabclean",
			Name:      "passes_total",
			Help:      "Cleaning passes run.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.applications, err = register(reg, m.applications); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.rows, err = register(reg, m.rows); err != nil {
		return nil, err
	}
	if m.passes, err = register(reg, m.passes); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) rule(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.applications.WithLabelValues(op, outcome).Inc()
	if outcome == outcomeApplied || outcome == outcomeFailed {
		m.duration.WithLabelValues(op).Observe(d.Seconds())
	}
}

func (m *Metrics) pass(rowsIn, rowsOut int) {
	if m == nil {
		return
	}
	m.passes.Inc()
	m.rows.WithLabelValues("input").Set(float64(rowsIn))
	m.rows.WithLabelValues("output").Set(float64(rowsOut))
}
