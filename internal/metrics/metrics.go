// Package metrics is the DOMAIN Prometheus wiring for the block builder:
// queue depth, batch latency and posting outcomes, exposed on GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric the builder emits. Constructed once at
// startup and threaded into the components that report against it.
type Registry struct {
	QueueDepth        *prometheus.GaugeVec
	BatchLatency      *prometheus.HistogramVec
	PostOutcomesTotal *prometheus.CounterVec
	SignersPerBlock   prometheus.Histogram
	NonceGap          *prometheus.GaugeVec
}

// NewRegistry registers every metric against prometheus.DefaultRegisterer
// (promauto's default behavior).
func NewRegistry() *Registry {
	return &Registry{
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "block_builder",
			Name:      "queue_depth",
			Help:      "Number of requests currently queued, by domain and queue name.",
		}, []string{"domain", "queue"}),
		BatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "block_builder",
			Name:      "batch_formation_seconds",
			Help:      "Time from a request's submission to its inclusion in a proposed block.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"domain"}),
		PostOutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "block_builder",
			Name:      "post_outcomes_total",
			Help:      "Count of block submission outcomes, by domain and result.",
		}, []string{"domain", "result"}),
		SignersPerBlock: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "block_builder",
			Name:      "signers_per_block",
			Help:      "Number of distinct signers that contributed to a finalized block.",
			Buckets:   prometheus.LinearBuckets(0, 4, 9),
		}),
		NonceGap: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "block_builder",
			Name:      "nonce_gap",
			Help:      "Difference between the next local nonce and the on-chain nonce, by domain.",
		}, []string{"domain"}),
	}
}
