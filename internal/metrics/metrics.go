// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skin_api_request_duration_seconds",
			Help:    "Total time taken for analysis requests in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 300, 600},
		},
		[]string{"endpoint", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skin_api_stage_duration_seconds",
			Help:    "Time taken per pipeline stage in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	TimeToFirstFragment = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skin_api_time_to_first_fragment_seconds",
			Help:    "Time from opening the completion stream to the first fragment in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 120},
		},
		[]string{"model"},
	)

	Fragments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skin_api_fragments_total",
			Help: "Total number of streamed fragments received",
		},
		[]string{"model", "channel"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skin_api_request_count_total",
			Help: "Total number of analysis requests processed",
		},
		[]string{"endpoint", "status"},
	)

	InflightRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skin_api_inflight_requests",
			Help: "Current Inflight Requests",
		},
		[]string{"endpoint"},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skin_api_error_count",
			Help: "Error count",
		},
		[]string{"stage", "kind", "from"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skin_api_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	CacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skin_api_cache_results_total",
			Help: "Analysis cache lookups by result",
		},
		[]string{"result"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skin_api_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
