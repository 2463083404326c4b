package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PairingsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pmv_rental", Name: "pairings_total", Help: "Total successful vehicle pairings"})
	UnpairingsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pmv_rental", Name: "unpairings_total", Help: "Total completed unpairings"})
	ActiveJourneys  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "pmv_rental", Name: "active_journeys", Help: "Number of journeys currently registered"})
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pmv_rental", Name: "station_broadcasts_total", Help: "Total station id broadcasts delivered"})

	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pmv_rental", Name: "operation_errors_total", Help: "Failed registry and controller operations by kind"},
		[]string{"operation", "kind"},
	)
	TripDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pmv_rental",
		Name:      "trip_duration_minutes",
		Help:      "Duration of completed trips in minutes",
		Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	})
	FareCents = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pmv_rental",
		Name:      "fare_cents",
		Help:      "Fare charged per completed trip in cents",
		Buckets:   prometheus.ExponentialBuckets(50, 2, 10),
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pmv_rental", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pmv_rental",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
