package resolve

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/git-pkgs/semverx/internal/core"
)

// Metrics holds the prometheus collectors for an Engine. A nil *Metrics
// records nothing.
type Metrics struct {
	resolutions *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	cacheHits   prometheus.Counter
	duration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semverx",
				Subsystem: "resolve",
				Name:      "resolutions_total",
				Help:      "Resolutions by requested strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semverx",
				Subsystem: "resolve",
				Name:      "fallbacks_total",
				Help:      "Resolutions whose requested strategy fell back to hybrid",
			},
			[]string{"strategy"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semverx",
				Subsystem: "resolve",
				Name:      "fetches_total",
				Help:      "Package metadata fetches by outcome",
			},
			[]string{"outcome"},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "semverx",
				Subsystem: "resolve",
				Name:      "cache_hits_total",
				Help:      "Fetches answered by the shared cache",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "semverx",
				Subsystem: "resolve",
				Name:      "duration_seconds",
				Help:      "Time taken to resolve a package graph",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"strategy"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.resolutions, m.fallbacks, m.fetches, m.cacheHits, m.duration)
	}
	return m
}

func (m *Metrics) observeResolution(s core.Strategy, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(string(s), outcome(err)).Inc()
	m.duration.WithLabelValues(string(s)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeFallback(s core.Strategy) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(string(s)).Inc()
}

func (m *Metrics) observeFetch(err error, cached bool) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome(err)).Inc()
	if cached {
		m.cacheHits.Inc()
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, core.ErrNotFound) {
		return "not_found"
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case PackageNotFound:
			return "not_found"
		case Panic:
			return "panic"
		case CyclicDependency:
			return "cycle"
		case Conflict:
			return "conflict"
		}
	}
	return "error"
}
