// Package metrics collects and exposes Prometheus metrics for the cache:
// refresh counters by outcome, refresh duration histograms, upstream retry
// counters, and per-resource snapshot gauges computed at scrape time.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boardcache/internal/resource"
	"boardcache/internal/snapshot"
)

// Collector owns the metric instruments and the registry they live in.
// Each Collector has its own registry so multiple instances can coexist
// in tests.
type Collector struct {
	registry *prometheus.Registry

	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	upstreamRetries *prometheus.CounterVec

	now func() time.Time
}

// NewCollector creates a collector and registers its instruments.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardcache_refreshes_total",
			Help: "Total number of refresh attempts by resource and outcome",
		}, []string{"resource", "outcome"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boardcache_refresh_duration_seconds",
			Help:    "Duration of upstream refresh cycles in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"resource"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardcache_upstream_retries_total",
			Help: "Total number of retried upstream requests by HTTP status",
		}, []string{"status"}),
		now: time.Now,
	}

	c.registry.MustRegister(c.refreshes)
	c.registry.MustRegister(c.refreshDuration)
	c.registry.MustRegister(c.upstreamRetries)
	c.registry.MustRegister(collectors.NewGoCollector())
	c.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return c
}

// RecordRefresh records one refresh attempt with its outcome label.
func (c *Collector) RecordRefresh(res resource.Type, outcome string, duration time.Duration) {
	c.refreshes.WithLabelValues(string(res), outcome).Inc()
	c.refreshDuration.WithLabelValues(string(res)).Observe(duration.Seconds())
}

// RecordRetry records one retried upstream request.
func (c *Collector) RecordRetry(status int) {
	c.upstreamRetries.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveStore registers per-resource snapshot gauges that read the store
// at scrape time, so version, record count, and age never go stale.
func (c *Collector) ObserveStore(store *snapshot.Store) {
	c.registry.MustRegister(&storeCollector{store: store, now: c.now})
}

// Handler returns the HTTP handler serving this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

var (
	versionDesc = prometheus.NewDesc(
		"boardcache_snapshot_version",
		"Version of the current snapshot per resource",
		[]string{"resource"}, nil)
	recordsDesc = prometheus.NewDesc(
		"boardcache_snapshot_records",
		"Record count of the current snapshot per resource",
		[]string{"resource"}, nil)
	ageDesc = prometheus.NewDesc(
		"boardcache_snapshot_age_seconds",
		"Age of the current snapshot per resource in seconds",
		[]string{"resource"}, nil)
)

// storeCollector exposes snapshot freshness as gauges, skipping resources
// that have never been populated.
type storeCollector struct {
	store *snapshot.Store
	now   func() time.Time
}

func (sc *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- versionDesc
	ch <- recordsDesc
	ch <- ageDesc
}

func (sc *storeCollector) Collect(ch chan<- prometheus.Metric) {
	for _, res := range resource.All() {
		fresh, err := sc.store.Freshness(res)
		if err != nil {
			continue
		}
		label := string(res)
		ch <- prometheus.MustNewConstMetric(versionDesc, prometheus.GaugeValue, float64(fresh.Version), label)
		ch <- prometheus.MustNewConstMetric(recordsDesc, prometheus.GaugeValue, float64(fresh.RecordCount), label)
		ch <- prometheus.MustNewConstMetric(ageDesc, prometheus.GaugeValue, sc.now().Sub(fresh.FetchedAt).Seconds(), label)
	}
}
