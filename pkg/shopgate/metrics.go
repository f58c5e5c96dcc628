package shopgate

import "time"

// Metrics defines the interface for tracking access checks and sync passes.
type Metrics interface {
	// RecordAccessDecision records the outcome of one access check.
	// reason is empty on grants.
	RecordAccessDecision(plan Plan, reason ReasonCode, granted bool)

	// RecordAccessCheckDuration records the end-to-end latency of an
	// access check, including the synchronous reconciliation.
	RecordAccessCheckDuration(duration time.Duration)

	// RecordSync records the outcome of one reconciliation pass.
	RecordSync(success bool, updated int)

	// RecordSyncDuration records the duration of one reconciliation pass.
	RecordSyncDuration(duration time.Duration)

	// RecordUpstreamFetch records the duration and status of an upstream
	// fetch ("customers" or "orders").
	RecordUpstreamFetch(dataset string, duration time.Duration, err error)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordAccessDecision(plan Plan, reason ReasonCode, granted bool)            {}
func (n *NoopMetrics) RecordAccessCheckDuration(duration time.Duration)                           {}
func (n *NoopMetrics) RecordSync(success bool, updated int)                                       {}
func (n *NoopMetrics) RecordSyncDuration(duration time.Duration)                                  {}
func (n *NoopMetrics) RecordUpstreamFetch(dataset string, duration time.Duration, err error)      {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
