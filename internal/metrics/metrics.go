// Package metrics defines the Prometheus instruments for place resolution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "place_resolver"

// Outcome label values.
const (
	OutcomeResolved = "resolved"
	OutcomeNoMatch  = "no_match"
	OutcomeError    = "error"
	OutcomeEmpty    = "empty"
	OutcomeSuccess  = "success"
)

// Cache tier and lookup label values.
const (
	TierEphemeral  = "ephemeral"
	TierPersistent = "persistent"
	ResultHit      = "hit"
	ResultMiss     = "miss"
)

// Flush trigger label values.
const (
	FlushDebounce = "debounce"
	FlushForced   = "forced"
	FlushClose    = "close"
)

// Metrics holds the resolver's counters and histograms.
type Metrics struct {
	Resolutions *prometheus.CounterVec // labels: provider, outcome
	CacheLookup *prometheus.CounterVec // labels: tier, result

	ProviderRequests *prometheus.CounterVec   // labels: provider, outcome
	ProviderDuration *prometheus.HistogramVec // labels: provider
	OfflineRefusals  *prometheus.CounterVec   // labels: provider

	CacheFlushes     *prometheus.CounterVec // labels: trigger
	CacheFlushErrors prometheus.Counter
	CacheEntries     prometheus.Gauge
	BatchDuration    prometheus.Histogram
	BatchSize        prometheus.Histogram
}

// NewMetrics creates the metrics and registers them with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := build()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewUnregistered creates metrics that are not registered anywhere, for
// tests and embedded use where several resolvers share a process.
func NewUnregistered() *Metrics {
	return build()
}

// Register adds the metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func build() *Metrics {
	return &Metrics{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Place resolutions by answering provider and outcome.",
		}, []string{"provider", "outcome"}),
		CacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Live provider searches by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Live provider search latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"provider"}),
		OfflineRefusals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_refusals_total",
			Help:      "Live provider calls refused because offline mode was active.",
		}, []string{"provider"}),
		CacheFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_flushes_total",
			Help:      "Persistent cache writes by trigger.",
		}, []string{"trigger"}),
		CacheFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_flush_errors_total",
			Help:      "Persistent cache writes that failed.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries in the persistent cache index after the last write.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of a full batch resolution.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Places per batch resolution request.",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 200},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Resolutions,
		m.CacheLookup,
		m.ProviderRequests,
		m.ProviderDuration,
		m.OfflineRefusals,
		m.CacheFlushes,
		m.CacheFlushErrors,
		m.CacheEntries,
		m.BatchDuration,
		m.BatchSize,
	}
}
