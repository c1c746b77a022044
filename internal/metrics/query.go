package metrics

import "github.com/prometheus/client_golang/prometheus"

// Query pipeline Prometheus metrics.
var (
	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "query_total",
			Help:      "Queries by outcome: answered, abstained, error",
		},
		[]string{"outcome"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "query_stage_duration_seconds",
			Help:      "Duration of each query pipeline stage",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	JudgeCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "judge_cache_total",
			Help:      "Relevance score cache hits and misses",
		},
		[]string{"result"},
	)

	PublisherReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "publisher_ready",
			Help:      "1 when the publisher corpus loaded and passed checks",
		},
		[]string{"publisher"},
	)
)

var queryMetricsRegistered bool

// RegisterQueryMetrics registers the query pipeline metrics. Must be called once from main.
func RegisterQueryMetrics() {
	if queryMetricsRegistered {
		return
	}
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(JudgeCacheTotal)
	prometheus.MustRegister(PublisherReady)
	queryMetricsRegistered = true
}

// SetPublisherReady flips the readiness gauge for one publisher.
func SetPublisherReady(publisher string, ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	PublisherReady.WithLabelValues(publisher).Set(v)
}
