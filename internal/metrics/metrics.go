// Package metrics holds the daemon's Prometheus collectors. They are
// registered on the default registry and exposed via /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkerUp is 1 while a handshaked worker process is owned, 0 otherwise.
	WorkerUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rss_reader_worker_up",
		Help: "Whether a healthy worker process is currently running",
	})

	// WorkerRestarts counts automatic worker restart attempts.
	WorkerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rss_reader_worker_restarts_total",
		Help: "Total automatic worker restart attempts",
	})

	// HandshakeDuration observes spawn-to-port-announcement latency.
	HandshakeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rss_reader_worker_handshake_duration_seconds",
		Help:    "Time from worker spawn to port announcement",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// FeedRefreshes counts feed refresh outcomes by result.
	FeedRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rss_reader_feed_refreshes_total",
		Help: "Feed refresh attempts by outcome",
	}, []string{"result"})

	// ArticlesIngested counts new articles stored during refreshes.
	ArticlesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rss_reader_articles_ingested_total",
		Help: "New articles stored from feed refreshes",
	})

	// Translations counts translation proxy calls by outcome.
	Translations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rss_reader_translations_total",
		Help: "Translation requests by outcome",
	}, []string{"result"})
)
