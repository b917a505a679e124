// Package observability exposes Prometheus metrics for series computation.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"purchasedash/internal/analytics"
)

const namespace = "purchasedash"

// Metrics holds the collectors shared by every collection's engine.
type Metrics struct {
	registerer prometheus.Registerer

	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	sharedFlights *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registerer: reg,
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_cache_hits_total",
			Help:      "Series served from the cache.",
		}, []string{"collection", "variant"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_cache_misses_total",
			Help:      "Series lookups that required computation.",
		}, []string{"collection", "variant"}),
		sharedFlights: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_shared_total",
			Help:      "Callers that waited on an in-flight computation instead of fetching.",
		}, []string{"collection", "variant"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of grouped count queries against the record store, by outcome (success, error, cancelled).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection", "outcome"}),
	}
}

// RegisterCacheSize exposes the entry count of one collection's cache.
func (m *Metrics) RegisterCacheSize(collection string, size func() int) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "series_cache_entries",
		Help:        "Number of series currently cached.",
		ConstLabels: prometheus.Labels{"collection": collection},
	}, func() float64 { return float64(size()) })
	return m.registerer.Register(gauge)
}

// Observer returns an analytics.Observer that records events for collection.
func (m *Metrics) Observer(collection string) analytics.Observer {
	return &collectionObserver{metrics: m, collection: collection}
}

type collectionObserver struct {
	metrics    *Metrics
	collection string
}

func (o *collectionObserver) CacheHit(v analytics.Variant) {
	o.metrics.cacheHits.WithLabelValues(o.collection, string(v)).Inc()
}

func (o *collectionObserver) CacheMiss(v analytics.Variant) {
	o.metrics.cacheMisses.WithLabelValues(o.collection, string(v)).Inc()
}

func (o *collectionObserver) FlightShared(v analytics.Variant) {
	o.metrics.sharedFlights.WithLabelValues(o.collection, string(v)).Inc()
}

func (o *collectionObserver) FetchCompleted(elapsed time.Duration, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	o.metrics.fetchDuration.WithLabelValues(o.collection, outcome).Observe(elapsed.Seconds())
}
