// Package model defines the core data types flowing through the masking pipeline.
package model

import "time"

// MaskingStatus records the outcome of masking a single event.
type MaskingStatus string

const (
	// StatusSuccess means every configured field was masked.
	StatusSuccess MaskingStatus = "SUCCESS"

	// StatusPartial means at least one field could not be masked and was
	// replaced with the unredactable sentinel instead.
	StatusPartial MaskingStatus = "PARTIAL"

	// StatusFailed means the event never produced a usable masked record.
	StatusFailed MaskingStatus = "FAILED"
)

// RawEvent is an immutable record pulled from the source feed. Delivery is
// at-least-once; EventID is the deduplication and idempotency key.
type RawEvent struct {
	EventID         string         `json:"eventId"`
	Payload         map[string]any `json:"payload"`
	SourceTimestamp time.Time      `json:"sourceTimestamp"`
	ReceivedAt      time.Time      `json:"receivedAt,omitempty"`
}

// MaskedRecord is the redacted form of a RawEvent, ready for the sink.
// It is written at most once per EventID (the sink upsert makes retried
// writes idempotent).
type MaskedRecord struct {
	EventID         string         `json:"eventId"`
	Payload         map[string]any `json:"payload"`
	SourceTimestamp time.Time      `json:"sourceTimestamp"`
	MaskedAt        time.Time      `json:"_masked_at"`
	MaskingStatus   MaskingStatus  `json:"_masking_status"`
}

// GapKind distinguishes the two conditions the reconciler reports.
type GapKind string

const (
	// GapAbsent means the source key has no destination row at all.
	GapAbsent GapKind = "ABSENT"

	// GapUnhealthy means a destination row exists but its masking status
	// never reached SUCCESS. These are candidates for operator replay.
	GapUnhealthy GapKind = "UNHEALTHY"
)

// AuditGap identifies a source record that failed to reach the destination
// in a healthy state within the staleness window.
type AuditGap struct {
	EventID         string        `json:"eventId"`
	Kind            GapKind       `json:"kind"`
	SourceTimestamp time.Time     `json:"sourceTimestamp"`
	Status          MaskingStatus `json:"status,omitempty"`
}

// AuditReport summarizes a single reconciliation run.
type AuditReport struct {
	RunAt          time.Time     `json:"run_at"`
	Threshold      time.Duration `json:"threshold"`
	SourceCount    int           `json:"source_count"`
	AbsentCount    int           `json:"absent_count"`
	UnhealthyCount int           `json:"unhealthy_count"`
	Sample         []AuditGap    `json:"sample,omitempty"`
}

// BackfillCursor tracks progress of the historical replay so a restart
// resumes after the last committed batch instead of from the beginning.
type BackfillCursor struct {
	LastProcessedKey     string    `json:"last_processed_key"`
	EndKey               string    `json:"end_key"`
	ProcessedCount       int64     `json:"processed_count"`
	QuotaBudgetRemaining int64     `json:"quota_budget_remaining"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Done reports whether the cursor has reached the end of the snapshot range.
func (c BackfillCursor) Done() bool {
	return c.EndKey != "" && c.LastProcessedKey >= c.EndKey
}
