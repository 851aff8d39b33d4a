package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup outcomes.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

// CartMetrics records cache-aside behaviour of the cart service.
type CartMetrics struct {
	lookups            *prometheus.CounterVec
	cacheWriteFailures *prometheus.CounterVec
	popularityFailures prometheus.Counter
	duration           *prometheus.HistogramVec
}

// NewCartMetrics registers the cart metrics on the provided registerer. A nil
// registerer yields a no-op recorder.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_cache_lookups_total",
		Help: "Cart cache lookups by outcome.",
	}, []string{"result"})
	writeFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_cache_write_failures_total",
		Help: "Absorbed cart cache write/delete failures.",
	}, []string{"op"})
	popularity := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_popularity_update_failures_total",
		Help: "Absorbed popularity counter update failures.",
	})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_operation_duration_seconds",
		Help:    "Duration of cart operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	reg.MustRegister(lookups, writeFailures, popularity, duration)
	return &CartMetrics{
		lookups:            lookups,
		cacheWriteFailures: writeFailures,
		popularityFailures: popularity,
		duration:           duration,
	}
}

// IncLookup counts a cache lookup with the given outcome.
func (m *CartMetrics) IncLookup(result string) {
	if m == nil || m.lookups == nil {
		return
	}
	m.lookups.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncCacheWriteFailure counts an absorbed cache write or delete failure.
func (m *CartMetrics) IncCacheWriteFailure(op string) {
	if m == nil || m.cacheWriteFailures == nil {
		return
	}
	m.cacheWriteFailures.WithLabelValues(normalizeLabel(op)).Inc()
}

func (m *CartMetrics) IncPopularityFailure() {
	if m == nil || m.popularityFailures == nil {
		return
	}
	m.popularityFailures.Inc()
}

// ObserveDuration records the duration for the named operation.
func (m *CartMetrics) ObserveDuration(op string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(op)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
