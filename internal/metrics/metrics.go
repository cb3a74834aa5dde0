// Package metrics collects prometheus metrics for feed fetches, reconciliation,
// the image cache and companion transfers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the core records.
//
// A nil *Collector is valid and records nothing, so components can be built without one.
type Collector struct {
	feedFetches   *prometheus.CounterVec
	feedLatency   prometheus.Histogram
	httpStatus    *prometheus.CounterVec
	photosStored  *prometheus.CounterVec
	recordsSkip   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	imageFetches  *prometheus.CounterVec
	transfers     *prometheus.CounterVec
	snapshotBytes prometheus.Histogram
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photorama_feed_fetches_total",
			Help: "Feed fetches by feed and outcome.",
		}, []string{"feed", "outcome"}),
		feedLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "photorama_feed_fetch_seconds",
			Help:    "Latency of remote feed fetches.",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photorama_remote_http_status_total",
			Help: "Responses from remote hosts by status code.",
		}, []string{"status_code"}),
		photosStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photorama_photos_inserted_total",
			Help: "Photos newly inserted by reconciliation.",
		}, []string{"feed"}),
		recordsSkip: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photorama_records_skipped_total",
			Help: "Feed records skipped during reconciliation by reason.",
		}, []string{"feed", "reason"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photorama_image_cache_lookups_total",
			Help: "Image cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		imageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photorama_image_fetches_total",
			Help: "Network fetches of images by outcome.",
		}, []string{"outcome"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photorama_companion_transfers_total",
			Help: "Snapshots handed to the companion channel by feed and outcome.",
		}, []string{"feed", "outcome"}),
		snapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "photorama_snapshot_bytes",
			Help:    "Size of feed snapshots written for the companion.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}

	reg.MustRegister(
		c.feedFetches,
		c.feedLatency,
		c.httpStatus,
		c.photosStored,
		c.recordsSkip,
		c.cacheLookups,
		c.imageFetches,
		c.transfers,
		c.snapshotBytes,
	)

	return c
}

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

func (c *Collector) RecordFeedFetch(feed, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.feedFetches.WithLabelValues(feed, outcome).Inc()
	c.feedLatency.Observe(took.Seconds())
}

func (c *Collector) RecordHTTPStatus(code int) {
	if c == nil {
		return
	}
	c.httpStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (c *Collector) RecordInserted(feed string, n int) {
	if c == nil {
		return
	}
	c.photosStored.WithLabelValues(feed).Add(float64(n))
}

// RecordSkipped counts a record that didn't make it in. reason is "invalid" or "duplicate".
func (c *Collector) RecordSkipped(feed, reason string) {
	if c == nil {
		return
	}
	c.recordsSkip.WithLabelValues(feed, reason).Inc()
}

// RecordCacheLookup counts a lookup against the "memory" or "disk" tier.
func (c *Collector) RecordCacheLookup(tier string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(tier, result).Inc()
}

func (c *Collector) RecordImageFetch(outcome string) {
	if c == nil {
		return
	}
	c.imageFetches.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordTransfer(feed, outcome string, size int) {
	if c == nil {
		return
	}
	c.transfers.WithLabelValues(feed, outcome).Inc()
	if outcome == OutcomeSuccess {
		c.snapshotBytes.Observe(float64(size))
	}
}

// Handler serves the metrics in gatherer for prometheus to scrape.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
