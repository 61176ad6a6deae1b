package messaging

// Subject constants for the pipeline message bus.
// Pattern: {domain}.{stage}[.{qualifier}]
const (
	// SubjectEventsRaw carries change events from the source feed.
	SubjectEventsRaw = "events.raw"

	// SubjectDLQPrefix is the prefix for dead-letter subjects; the failure
	// class is appended, e.g. dlq.retryable / dlq.permanent.
	SubjectDLQPrefix = "dlq"
)

// DLQSubject returns the dead-letter subject for a failure class.
// Example: dlq.retryable
func DLQSubject(class string) string {
	return SubjectDLQPrefix + "." + class
}
