// Package pipeline wires the masking pool, sink writer and dead-letter
// router into a single per-event processing path shared by the live
// consumer and the backfill processor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/veilstream/veilstream/internal/dlq"
	"github.com/veilstream/veilstream/internal/logging"
	"github.com/veilstream/veilstream/internal/masking"
	"github.com/veilstream/veilstream/internal/model"
	"github.com/veilstream/veilstream/internal/sink"
)

// SinkRetryConfig bounds retries against a temporarily unavailable destination.
type SinkRetryConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Processor runs one event through mask -> sink, escalating failures to the
// dead-letter router. It also captures basic telemetry.
type Processor struct {
	pool    *masking.Pool
	sink    sink.Sink
	router  *dlq.Router
	sinkCfg SinkRetryConfig

	startedAt    time.Time
	processed    atomic.Uint64
	partial      atomic.Uint64
	deadLettered atomic.Uint64
}

// NewProcessor creates a Processor.
func NewProcessor(pool *masking.Pool, s sink.Sink, router *dlq.Router, sinkCfg SinkRetryConfig) *Processor {
	if sinkCfg.MaxAttempts <= 0 {
		sinkCfg.MaxAttempts = 3
	}
	if sinkCfg.BackoffBase <= 0 {
		sinkCfg.BackoffBase = 250 * time.Millisecond
	}
	if sinkCfg.BackoffCap <= 0 {
		sinkCfg.BackoffCap = 5 * time.Second
	}

	return &Processor{
		pool:      pool,
		sink:      s,
		router:    router,
		sinkCfg:   sinkCfg,
		startedAt: time.Now().UTC(),
	}
}

// Process takes the event to a terminal state: a destination row or a
// dead-letter entry. A nil return means a terminal state was reached and
// the event may be acknowledged; an error means neither happened and the
// event must be redelivered.
func (p *Processor) Process(ctx context.Context, caller masking.Caller, event *model.RawEvent) error {
	record, err := p.pool.Mask(ctx, caller, event)
	if err != nil {
		var failure *masking.Failure
		if !errors.As(err, &failure) {
			return fmt.Errorf("mask event %s: %w", event.EventID, err)
		}
		return p.deadLetter(ctx, event, failure.Kind, failure.Attempts, failure.Err.Error())
	}

	if attempts, err := p.writeWithRetry(ctx, record); err != nil {
		kind := model.FailureUnavailable
		if errors.Is(err, sink.ErrConflict) {
			kind = model.FailureSinkConflict
			slog.Error("sink conflict on idempotent upsert, this is a bug",
				logging.EventID(event.EventID),
				logging.Error(err),
			)
		}
		// The original event goes to the DLQ, not the masked record:
		// masking is cheap to redo, the failure signal is not.
		return p.deadLetter(ctx, event, kind, attempts, err.Error())
	}

	if record.MaskingStatus == model.StatusPartial {
		p.partial.Add(1)
	}
	p.processed.Add(1)
	return nil
}

// DeadLetterRaw preserves bytes that could not be decoded into a RawEvent.
// They are wrapped in a synthetic event so the dead-letter stream keeps
// the original data.
func (p *Processor) DeadLetterRaw(ctx context.Context, data []byte, cause error) error {
	event := &model.RawEvent{
		EventID:         uuid.New().String(),
		Payload:         map[string]any{"_raw": string(data)},
		SourceTimestamp: time.Now().UTC(),
		ReceivedAt:      time.Now().UTC(),
	}
	return p.deadLetter(ctx, event, model.FailureMalformedPayload, 1, cause.Error())
}

func (p *Processor) deadLetter(ctx context.Context, event *model.RawEvent, kind model.FailureKind, attempts int, detail string) error {
	if _, err := p.router.Route(ctx, event, kind, attempts, detail); err != nil {
		return fmt.Errorf("dead-letter event %s: %w", event.EventID, err)
	}
	p.deadLettered.Add(1)
	return nil
}

// writeWithRetry returns the number of write attempts actually made, so a
// first-attempt abort (conflict, canceled context) is not reported as
// budget exhaustion.
func (p *Processor) writeWithRetry(ctx context.Context, record *model.MaskedRecord) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.sinkCfg.MaxAttempts; attempt++ {
		err := p.sink.Write(ctx, record)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !errors.Is(err, sink.ErrUnavailable) {
			return attempt, err
		}

		if attempt < p.sinkCfg.MaxAttempts {
			d := p.sinkCfg.BackoffBase << (attempt - 1)
			if d > p.sinkCfg.BackoffCap {
				d = p.sinkCfg.BackoffCap
			}
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			}
		}
	}
	return p.sinkCfg.MaxAttempts, lastErr
}

// Stats is a snapshot of processor telemetry.
type Stats struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Processed     uint64 `json:"processed"`
	Partial       uint64 `json:"partial"`
	DeadLettered  uint64 `json:"dead_lettered"`
}

// Health returns live counters for the admin API.
func (p *Processor) Health() Stats {
	return Stats{
		UptimeSeconds: int64(time.Since(p.startedAt).Seconds()),
		Processed:     p.processed.Load(),
		Partial:       p.partial.Load(),
		DeadLettered:  p.deadLettered.Load(),
	}
}
