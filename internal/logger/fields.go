package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Tracing Fields (Context level)
// Propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldProductID is the marketplace product ID being advanced
	FieldProductID = "product_id"

	// FieldStage is the conveyor stage name
	FieldStage = "stage"

	// FieldWorker is the runner worker index
	FieldWorker = "worker"

	// FieldTrigger tells loop-driven advances from operator force-syncs
	FieldTrigger = "trigger"
)

// ============================================
// Metric Fields (Entry level)
// Used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldSize is the response size in bytes
	FieldSize = "size"

	// FieldOutcome is the advance outcome (done, error, in_flight)
	FieldOutcome = "outcome"
)
