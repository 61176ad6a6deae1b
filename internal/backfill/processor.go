package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veilstream/veilstream/internal/logging"
	"github.com/veilstream/veilstream/internal/masking"
	"github.com/veilstream/veilstream/internal/metrics"
	"github.com/veilstream/veilstream/internal/model"
	"github.com/veilstream/veilstream/internal/pipeline"
	"github.com/veilstream/veilstream/internal/source"
)

// Config controls batch sizing and pacing of the historical replay.
type Config struct {
	BatchSize int

	// QuotaBudget caps how many records this run may push through the
	// masking service. Zero means unlimited.
	QuotaBudget int64

	// Pause is the delay between batches, an additional brake on top of
	// the pool's reserved backfill share.
	Pause time.Duration
}

// Processor replays the source population through the shared masking
// pipeline in deterministic key order, checkpointing after each
// committed batch.
type Processor struct {
	source   source.Repository
	cursors  CursorStore
	pipeline *pipeline.Processor
	cfg      Config
}

// New creates a backfill processor.
func New(src source.Repository, cursors CursorStore, pipe *pipeline.Processor, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Processor{
		source:   src,
		cursors:  cursors,
		pipeline: pipe,
		cfg:      cfg,
	}
}

// Run executes the replay until the cursor reaches the snapshot end key,
// the quota budget is exhausted, or the context is canceled. It is safe
// to call again after an interruption: processing resumes at the stored
// cursor and committed ranges are never reprocessed.
func (p *Processor) Run(ctx context.Context) error {
	cursor, found, err := p.cursors.Load(ctx)
	if err != nil {
		return err
	}

	if !found {
		// First run: snapshot the end of the historical range. Records
		// appended after this point belong to the live stream.
		endKey, err := p.source.MaxKey(ctx)
		if err != nil {
			return fmt.Errorf("snapshot source range: %w", err)
		}
		if endKey == "" {
			slog.Info("backfill: source population empty, nothing to do")
			return nil
		}
		cursor = model.BackfillCursor{
			EndKey:               endKey,
			QuotaBudgetRemaining: p.cfg.QuotaBudget,
			UpdatedAt:            time.Now().UTC(),
		}
		if err := p.cursors.Save(ctx, cursor); err != nil {
			return err
		}
	}

	if cursor.Done() {
		slog.Info("backfill: already complete", logging.Cursor(cursor.LastProcessedKey))
		return nil
	}

	slog.Info("backfill: starting",
		logging.Cursor(cursor.LastProcessedKey),
		slog.String("end_key", cursor.EndKey),
		slog.Int64("processed", cursor.ProcessedCount),
	)

	for !cursor.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.cfg.QuotaBudget > 0 && cursor.QuotaBudgetRemaining <= 0 {
			slog.Warn("backfill: quota budget exhausted, pausing run",
				logging.Cursor(cursor.LastProcessedKey),
			)
			return nil
		}

		batchSize := p.cfg.BatchSize
		if p.cfg.QuotaBudget > 0 && int64(batchSize) > cursor.QuotaBudgetRemaining {
			batchSize = int(cursor.QuotaBudgetRemaining)
		}

		events, err := p.source.ScanRange(ctx, cursor.LastProcessedKey, cursor.EndKey, batchSize)
		if err != nil {
			return fmt.Errorf("scan batch after %q: %w", cursor.LastProcessedKey, err)
		}
		if len(events) == 0 {
			// Keys between cursor and end were deleted upstream; the
			// range is exhausted.
			cursor.LastProcessedKey = cursor.EndKey
			cursor.UpdatedAt = time.Now().UTC()
			if err := p.cursors.Save(ctx, cursor); err != nil {
				return err
			}
			break
		}

		for i := range events {
			if err := p.pipeline.Process(ctx, masking.CallerBackfill, &events[i]); err != nil {
				// Leave the cursor at the last committed batch; the
				// resumed run re-reads this batch. The sink upsert makes
				// the partial overlap harmless.
				return fmt.Errorf("backfill batch after %q: %w", cursor.LastProcessedKey, err)
			}
			metrics.BackfillProcessed.Inc()
		}

		cursor.LastProcessedKey = events[len(events)-1].EventID
		cursor.ProcessedCount += int64(len(events))
		if p.cfg.QuotaBudget > 0 {
			cursor.QuotaBudgetRemaining -= int64(len(events))
		}
		cursor.UpdatedAt = time.Now().UTC()

		// Checkpoint after commit, never before.
		if err := p.cursors.Save(ctx, cursor); err != nil {
			return err
		}
		metrics.BackfillCheckpoints.Inc()

		if p.cfg.Pause > 0 {
			timer := time.NewTimer(p.cfg.Pause)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	slog.Info("backfill: complete",
		slog.Int64("processed", cursor.ProcessedCount),
		slog.String("end_key", cursor.EndKey),
	)
	return nil
}

// Status returns the stored cursor for the admin API.
func (p *Processor) Status(ctx context.Context) (model.BackfillCursor, bool, error) {
	return p.cursors.Load(ctx)
}
