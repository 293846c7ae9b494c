package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncQueryCount counts a handled question by outcome ("ok" or an error kind).
	IncQueryCount(outcome string)

	// ObserveStageDuration records the time spent in a pipeline stage.
	ObserveStageDuration(stage string, duration time.Duration)

	// IncOracleCalls counts oracle calls by purpose (interpret, phrase).
	IncOracleCalls(purpose string, success bool)

	// ObserveOracleDuration records oracle latency.
	ObserveOracleDuration(purpose string, duration time.Duration)

	// IncBufferCache counts buffer cache lookups.
	IncBufferCache(hit bool)

	// SetLayersLoaded sets the number of layers in the catalog.
	SetLayersLoaded(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncQueryCount implements MetricsCollector.
func (n *NoOpMetrics) IncQueryCount(_ string) {}

// ObserveStageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStageDuration(_ string, _ time.Duration) {}

// IncOracleCalls implements MetricsCollector.
func (n *NoOpMetrics) IncOracleCalls(_ string, _ bool) {}

// ObserveOracleDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveOracleDuration(_ string, _ time.Duration) {}

// IncBufferCache implements MetricsCollector.
func (n *NoOpMetrics) IncBufferCache(_ bool) {}

// SetLayersLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetLayersLoaded(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
