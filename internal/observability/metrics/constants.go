// Package metrics provides custom Prometheus metrics for the audiohub components.
package metrics

// Status label values shared by counters that track operation outcomes.
const (
	// StatusSuccess marks a completed operation.
	StatusSuccess = "success"
	// StatusError marks a failed operation.
	StatusError = "error"
	// StatusFallback marks an operation satisfied by the fallback model.
	StatusFallback = "fallback"
	// StatusExhausted marks an allocation rejected for lack of capacity.
	StatusExhausted = "exhausted"
	// StatusConstraint marks an allocation rejected by its own constraints.
	StatusConstraint = "constraint"
)

// Shared histogram shapes. A start value pairs with a growth factor and a
// bucket count to cover the range named in the constant.
const (
	BucketStart1ms   = 0.001 // 1ms upward for queue and wait latencies
	BucketStart10ms  = 0.01  // 10ms upward for inference steps
	BucketStart100ms = 0.1   // 100ms upward for whole-task durations
	BucketStart100B  = 100.0 // payload sizes from 100 bytes up

	BucketFactor2 = 2

	BucketCount10 = 10
	BucketCount12 = 12
)

// PercentageFactor converts a 0..1 ratio to a percentage.
const PercentageFactor = 100.0
