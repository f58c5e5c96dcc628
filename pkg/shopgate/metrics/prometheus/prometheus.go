package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// Metrics implements shopgate.Metrics using Prometheus.
type Metrics struct {
	accessDecisionsTotal *prometheus.CounterVec
	accessCheckDuration  prometheus.Histogram
	syncsTotal           *prometheus.CounterVec
	syncDuration         prometheus.Histogram
	syncUpdatedRecords   prometheus.Histogram
	upstreamFetchTotal   *prometheus.CounterVec
	upstreamFetchSeconds *prometheus.HistogramVec
	storageOpsDuration   *prometheus.HistogramVec
	storageOpsErrors     *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		accessDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Total number of access check decisions.",
		}, []string{"plan", "reason", "granted"}),

		accessCheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "access_check_duration_seconds",
			Help:      "End-to-end latency of access checks, including the synchronous sync.",
			Buckets:   prometheus.DefBuckets,
		}),

		syncsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Total number of reconciliation passes.",
		}, []string{"success"}),

		syncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		}),

		syncUpdatedRecords: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_updated_subscriptions",
			Help:      "Distribution of subscription updates applied per pass.",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500},
		}),

		upstreamFetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_fetch_total",
			Help:      "Total number of upstream dataset fetches.",
		}, []string{"dataset", "success"}),

		upstreamFetchSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_fetch_duration_seconds",
			Help:      "Latency of upstream dataset fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dataset"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

// DefaultMetrics creates metrics registered on the default registry.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

// RecordAccessDecision implements shopgate.Metrics.
func (m *Metrics) RecordAccessDecision(plan shopgate.Plan, reason shopgate.ReasonCode, granted bool) {
	m.accessDecisionsTotal.WithLabelValues(string(plan), string(reason), strconv.FormatBool(granted)).Inc()
}

// RecordAccessCheckDuration implements shopgate.Metrics.
func (m *Metrics) RecordAccessCheckDuration(duration time.Duration) {
	m.accessCheckDuration.Observe(duration.Seconds())
}

// RecordSync implements shopgate.Metrics.
func (m *Metrics) RecordSync(success bool, updated int) {
	m.syncsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
	if success {
		m.syncUpdatedRecords.Observe(float64(updated))
	}
}

// RecordSyncDuration implements shopgate.Metrics.
func (m *Metrics) RecordSyncDuration(duration time.Duration) {
	m.syncDuration.Observe(duration.Seconds())
}

// RecordUpstreamFetch implements shopgate.Metrics.
func (m *Metrics) RecordUpstreamFetch(dataset string, duration time.Duration, err error) {
	m.upstreamFetchTotal.WithLabelValues(dataset, strconv.FormatBool(err == nil)).Inc()
	m.upstreamFetchSeconds.WithLabelValues(dataset).Observe(duration.Seconds())
}

// RecordStorageOperation implements shopgate.Metrics.
func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}
