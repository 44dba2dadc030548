package cache

import (
	"math"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "vocab"

var (
	hitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cache_hits_total",
		Help:      "Hot cache hits per wrapped operation.",
	}, []string{"cache"})

	missesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cache_misses_total",
		Help:      "Hot cache misses per wrapped operation.",
	}, []string{"cache"})
)

// RegisterMetrics registers the cache counters with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{hitsTotal, missesTotal} {
		err := reg.Register(collector)
		if err != nil {
			return err
		}
	}

	return nil
}

// MetricsSnapshot is a point-in-time view of a wrapper's counters.
// HitRate is a percentage rounded to two decimals.
type MetricsSnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hitRate"`
}

// Metrics counts hits and misses for one wrapper. Counters are process-local and
// reset on restart.
type Metrics struct {
	name   string
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMetrics creates counters labelled name.
func NewMetrics(name string) *Metrics {
	return &Metrics{name: name}
}

// Hit records a cache hit.
func (m *Metrics) Hit() {
	m.hits.Add(1)
	hitsTotal.WithLabelValues(m.name).Inc()
}

// Miss records a cache miss.
func (m *Metrics) Miss() {
	m.misses.Add(1)
	missesTotal.WithLabelValues(m.name).Inc()
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	hits := m.hits.Load()
	misses := m.misses.Load()

	return MetricsSnapshot{
		Hits:    hits,
		Misses:  misses,
		Total:   hits + misses,
		HitRate: HitRate(hits, misses),
	}
}

// HitRate returns hits/(hits+misses) as a percentage rounded to two decimals,
// or 0 when nothing was recorded.
func HitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}

	return math.Round(float64(hits)/float64(total)*100*100) / 100
}
