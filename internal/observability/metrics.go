package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_assignment", Name: "assignments_created_total", Help: "Assignments offered to drivers"})
	AcceptsTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_assignment", Name: "accepts_total", Help: "Accepted assignments"})
	RejectsTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_assignment", Name: "rejects_total", Help: "Rejected assignments"})
	ExpiriesTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_assignment", Name: "expiries_total", Help: "Assignments expired without response"})
	RequeuesTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "driver_assignment", Name: "requeues_total", Help: "Reassignment queue entries by reason"}, []string{"reason"})
	JobsExhausted      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "driver_assignment", Name: "jobs_no_driver_total", Help: "Jobs that exhausted the retry cap"})
	QueueDepth         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "driver_assignment", Name: "queue_depth", Help: "Live reassignment queue entries"})
	DispatchLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "driver_assignment", Name: "dispatch_latency_seconds", Help: "Candidate round latency", Buckets: prometheus.DefBuckets})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_assignment", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "driver_assignment",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
