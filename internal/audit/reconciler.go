// Package audit reconciles the source and destination populations. It is
// a backstop for the live pipeline, not part of the hot path: on a fixed
// interval it diffs the two datasets beyond a staleness window and reports
// any record that never reached the destination in a healthy state.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veilstream/veilstream/internal/logging"
	"github.com/veilstream/veilstream/internal/metrics"
	"github.com/veilstream/veilstream/internal/model"
	"github.com/veilstream/veilstream/internal/source"
)

// Config controls reconciliation cadence and reporting.
type Config struct {
	// Staleness is the minimum age of a source record before its absence
	// from the destination counts as a gap. Younger records are assumed
	// in flight.
	Staleness time.Duration

	// Interval between reconciliation runs.
	Interval time.Duration

	// SampleSize bounds how many offending keys a report carries.
	SampleSize int

	// CheckBatchSize bounds the ID list handed to the destination checker
	// per query.
	CheckBatchSize int
}

func (c *Config) applyDefaults() {
	if c.Staleness <= 0 {
		c.Staleness = 45 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.SampleSize <= 0 {
		c.SampleSize = 20
	}
	if c.CheckBatchSize <= 0 {
		c.CheckBatchSize = 500
	}
}

// Reconciler periodically diffs source against destination and reports
// gaps. It never mutates either population.
type Reconciler struct {
	source  source.Repository
	dest    DestinationChecker
	channel Channel
	cfg     Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a reconciler. A nil channel defaults to log reporting.
func New(src source.Repository, dest DestinationChecker, channel Channel, cfg Config) *Reconciler {
	cfg.applyDefaults()
	if channel == nil {
		channel = NewLogChannel()
	}
	return &Reconciler{
		source:  src,
		dest:    dest,
		channel: channel,
		cfg:     cfg,
	}
}

// Start launches the periodic reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	slog.Info("audit: reconciler started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Duration("staleness", r.cfg.Staleness),
	)
}

// Stop halts the loop and waits for an in-progress run to finish.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				// Reconciler failures are operational errors, reported
				// as such; they are never presented as data gaps.
				metrics.AuditErrors.Inc()
				if rerr := r.channel.ReportError(ctx, err); rerr != nil {
					slog.Error("audit: error report delivery failed",
						logging.Error(rerr),
					)
				}
			}
		}
	}
}

// RunOnce performs a single reconciliation pass and delivers the report.
func (r *Reconciler) RunOnce(ctx context.Context) (*model.AuditReport, error) {
	start := time.Now().UTC()
	cutoff := start.Add(-r.cfg.Staleness)

	keys, err := r.source.ListKeysOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale source keys: %w", err)
	}

	report := &model.AuditReport{
		RunAt:       start,
		Threshold:   r.cfg.Staleness,
		SourceCount: len(keys),
	}

	for batchStart := 0; batchStart < len(keys); batchStart += r.cfg.CheckBatchSize {
		end := min(batchStart+r.cfg.CheckBatchSize, len(keys))
		batch := keys[batchStart:end]

		ids := make([]string, len(batch))
		for i, k := range batch {
			ids[i] = k.EventID
		}

		statuses, err := r.dest.GetStatuses(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("check destination statuses: %w", err)
		}

		for _, k := range batch {
			status, exists := statuses[k.EventID]
			switch {
			case !exists:
				report.AbsentCount++
				r.sample(report, model.AuditGap{
					EventID:         k.EventID,
					Kind:            model.GapAbsent,
					SourceTimestamp: k.SourceTimestamp,
				})
			case status != model.StatusSuccess:
				report.UnhealthyCount++
				r.sample(report, model.AuditGap{
					EventID:         k.EventID,
					Kind:            model.GapUnhealthy,
					SourceTimestamp: k.SourceTimestamp,
					Status:          status,
				})
			}
		}
	}

	// Gauges carry this run's totals; a persistent gap holds the series
	// steady rather than growing it every interval.
	metrics.AuditGaps.WithLabelValues(string(model.GapAbsent)).Set(float64(report.AbsentCount))
	metrics.AuditGaps.WithLabelValues(string(model.GapUnhealthy)).Set(float64(report.UnhealthyCount))
	metrics.AuditRuns.Inc()

	if err := r.channel.Report(ctx, report); err != nil {
		slog.Error("audit: report delivery failed", logging.Error(err))
	}
	return report, nil
}

func (r *Reconciler) sample(report *model.AuditReport, gap model.AuditGap) {
	if len(report.Sample) < r.cfg.SampleSize {
		report.Sample = append(report.Sample, gap)
	}
}
