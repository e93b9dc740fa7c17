// Package metrics defines Prometheus metrics for journal sync runs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journalsync_api_requests_total",
			Help: "Journal API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	APIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journalsync_api_retries_total",
			Help: "Journal API retries after transient transport errors",
		},
		[]string{"endpoint"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journalsync_api_request_duration_seconds",
			Help:    "Journal API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journalsync_records_total",
			Help: "Records handled by sync and apply runs, by run kind and result",
		},
		[]string{"run", "result"},
	)

	CheckpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journalsync_checkpoints_total",
			Help: "Checkpoints persisted, by run kind",
		},
		[]string{"run"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journalsync_runs_total",
			Help: "Finished runs by kind and final status",
		},
		[]string{"run", "status"},
	)

	IndexedTitles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "journalsync_indexed_titles",
			Help: "Normalized titles in the last built index, by side",
		},
		[]string{"side"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRetriesTotal, APIRequestDuration,
		RecordsTotal, CheckpointsTotal, RunsTotal,
		IndexedTitles,
	)
}

// Record adds n to the records counter; zero is a no-op.
func Record(run, result string, n int64) {
	if n <= 0 {
		return
	}
	RecordsTotal.WithLabelValues(run, result).Add(float64(n))
}
