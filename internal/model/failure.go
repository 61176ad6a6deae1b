package model

import "time"

// FailureKind classifies why an event failed to complete the pipeline.
type FailureKind string

const (
	// FailureQuota means the masking service rejected the request for
	// exceeding its rate limit. Transient.
	FailureQuota FailureKind = "TRANSIENT_QUOTA"

	// FailureUnavailable means a downstream dependency was temporarily
	// unreachable. Transient.
	FailureUnavailable FailureKind = "TRANSIENT_UNAVAILABLE"

	// FailureMalformedPayload means a field's shape was incompatible with
	// its masking policy. Not retried; the record is sunk as PARTIAL.
	FailureMalformedPayload FailureKind = "MALFORMED_PAYLOAD"

	// FailurePolicyMisconfigured means the field-to-policy mapping names an
	// unknown masking method. Permanent.
	FailurePolicyMisconfigured FailureKind = "POLICY_MISCONFIGURED"

	// FailureSinkConflict should not occur given the idempotent upsert.
	// If observed it is treated as a bug and logged at error level.
	FailureSinkConflict FailureKind = "SINK_CONFLICT"
)

// ErrorClass determines whether a dead-lettered event may be replayed.
type ErrorClass string

const (
	// ClassRetryable marks transient failures an operator may replay.
	ClassRetryable ErrorClass = "RETRYABLE"

	// ClassPermanent marks failures that require human remediation.
	ClassPermanent ErrorClass = "PERMANENT"
)

// DeadLetterEntry is a RawEvent plus the failure metadata required to
// triage it. Entries are terminal: the pipeline never re-consumes them
// automatically.
type DeadLetterEntry struct {
	ID            string      `json:"id"`
	Event         *RawEvent   `json:"event"`
	ErrorKind     FailureKind `json:"errorKind"`
	ErrorClass    ErrorClass  `json:"errorClass"`
	ErrorDetail   string      `json:"errorDetail"`
	AttemptCount  int         `json:"attemptCount"`
	FirstFailedAt time.Time   `json:"firstFailedAt"`
}
