package observability

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RelayedItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_items_total",
		Help: "Items handled by a relay, by outcome",
	}, []string{"relay", "outcome"})

	DeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_dead_lettered_total",
		Help: "Messages written to a dead-letter topic",
	}, []string{"topic"})

	ForwardLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_forward_latency_seconds",
		Help:    "Time to forward a single item downstream",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"relay"})
)

func Init() {
	prometheus.MustRegister(RelayedItems, DeadLettered, ForwardLatency)
}

// RegisterQueueDepth exposes the pending job count of a worker pool.
func RegisterQueueDepth(name string, depth func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "relay_worker_queue_depth",
		Help:        "Jobs submitted to the worker pool and not yet finished",
		ConstLabels: prometheus.Labels{"pool": name},
	}, func() float64 { return float64(depth()) }))
}

// ServeMetrics exposes /metrics on the given port. The returned server is already listening.
func ServeMetrics(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(err)
		}
	}()
	return server
}
