package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_proxy_requests_total",
		Help: "Terminal pipeline outcomes by type",
	}, []string{"outcome"})

	correctionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_proxy_correction_attempts_total",
		Help: "Correction provider round-trips by result",
	}, []string{"result"})

	correctionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "schema_proxy_correction_duration_seconds",
		Help:    "Correction provider round-trip latency",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)
