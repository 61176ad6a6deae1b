package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Consumer metrics
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilstream_events_consumed_total",
			Help: "Total number of events pulled from the feed",
		},
		[]string{"outcome"},
	)

	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilstream_events_deduplicated_total",
			Help: "Total number of redelivered events suppressed by the dedup window",
		},
	)

	AckExtensions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilstream_ack_extensions_total",
			Help: "Total number of acknowledgment deadline extensions for slow events",
		},
	)

	// Masking metrics
	MaskingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veilstream_masking_duration_seconds",
			Help:    "Duration of a full masking pass over one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	MaskingRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilstream_masking_retries_total",
			Help: "Total number of masking-service retries after quota or availability errors",
		},
	)

	MaskingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilstream_masking_outcomes_total",
			Help: "Masking outcomes by status",
		},
		[]string{"status", "caller"},
	)

	QuotaWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilstream_quota_waits_total",
			Help: "Total number of times a masking call waited on the rate limiter",
		},
	)

	// Sink metrics
	SinkWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veilstream_sink_write_duration_seconds",
			Help:    "Duration of destination upserts",
			Buckets: prometheus.DefBuckets,
		},
	)

	SinkWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilstream_sink_write_errors_total",
			Help: "Total number of failed destination writes",
		},
	)

	SinkConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilstream_sink_conflicts_total",
			Help: "Total number of sink conflicts (should stay at zero)",
		},
	)

	// Dead-letter metrics
	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilstream_dead_lettered_total",
			Help: "Total number of events routed to the dead-letter stream",
		},
		[]string{"kind", "class"},
	)

	// Backfill metrics
	BackfillProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilstream_backfill_processed_total",
			Help: "Total number of historical records replayed through the masking path",
		},
	)

	BackfillCheckpoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilstream_backfill_checkpoints_total",
			Help: "Total number of cursor checkpoints committed",
		},
	)

	// Audit metrics
	AuditRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilstream_audit_runs_total",
			Help: "Total number of reconciliation runs",
		},
	)

	AuditGaps = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "veilstream_audit_gaps",
			Help: "Gaps found by the most recent reconciliation run",
		},
		[]string{"kind"},
	)

	AuditErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilstream_audit_errors_total",
			Help: "Total number of reconciler operational errors",
		},
	)
)
