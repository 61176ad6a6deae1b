package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilstream/veilstream/internal/metrics"
	"github.com/veilstream/veilstream/internal/model"
	"github.com/veilstream/veilstream/internal/source"
)

// captureChannel records delivered reports and run errors.
type captureChannel struct {
	reports []*model.AuditReport
	errs    []error
}

func (c *captureChannel) Type() string { return "capture" }

func (c *captureChannel) Report(_ context.Context, report *model.AuditReport) error {
	c.reports = append(c.reports, report)
	return nil
}

func (c *captureChannel) ReportError(_ context.Context, err error) error {
	c.errs = append(c.errs, err)
	return nil
}

// erroringSource fails every query.
type erroringSource struct {
	source.Repository
}

func (erroringSource) ListKeysOlderThan(ctx context.Context, cutoff time.Time) ([]source.KeyInfo, error) {
	return nil, errors.New("source unreachable")
}

func populate(repo *source.MemoryRepository, n int, age time.Duration) []string {
	ids := make([]string, n)
	ts := time.Now().UTC().Add(-age)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("evt-%03d", i)
		repo.Add(model.RawEvent{
			EventID:         id,
			Payload:         map[string]any{"email": "x@y.com"},
			SourceTimestamp: ts,
		})
		ids[i] = id
	}
	return ids
}

func TestRunOnce_ReportsExactlyMissing(t *testing.T) {
	repo := source.NewMemoryRepository()
	ids := populate(repo, 10, 2*time.Hour)

	dest := NewMemoryDestinationChecker()
	// 7 of 10 made it to the destination healthy; 3 are missing.
	for _, id := range ids[:7] {
		dest.Statuses[id] = model.StatusSuccess
	}

	ch := &captureChannel{}
	r := New(repo, dest, ch, Config{Staleness: 45 * time.Minute, SampleSize: 20})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, report.SourceCount)
	assert.Equal(t, 3, report.AbsentCount)
	assert.Equal(t, 0, report.UnhealthyCount)
	assert.Len(t, report.Sample, 3)
	for _, gap := range report.Sample {
		assert.Equal(t, model.GapAbsent, gap.Kind)
	}
	require.Len(t, ch.reports, 1)
}

func TestRunOnce_GapGaugeHoldsSteadyAcrossRuns(t *testing.T) {
	repo := source.NewMemoryRepository()
	ids := populate(repo, 6, 2*time.Hour)

	dest := NewMemoryDestinationChecker()
	for _, id := range ids[:4] {
		dest.Statuses[id] = model.StatusSuccess
	}

	r := New(repo, dest, &captureChannel{}, Config{Staleness: 45 * time.Minute, SampleSize: 20})

	// The same 2 records stay absent; repeated runs must report the
	// current total, not accumulate it.
	for i := 0; i < 3; i++ {
		_, err := r.RunOnce(context.Background())
		require.NoError(t, err)
	}

	absent := testutil.ToFloat64(metrics.AuditGaps.WithLabelValues(string(model.GapAbsent)))
	assert.Equal(t, 2.0, absent)

	unhealthy := testutil.ToFloat64(metrics.AuditGaps.WithLabelValues(string(model.GapUnhealthy)))
	assert.Equal(t, 0.0, unhealthy)
}

func TestRunOnce_YoungRecordsNeverFlagged(t *testing.T) {
	repo := source.NewMemoryRepository()
	// All records are younger than the staleness threshold and absent
	// from the destination; none may be reported.
	populate(repo, 5, 10*time.Minute)

	ch := &captureChannel{}
	r := New(repo, NewMemoryDestinationChecker(), ch, Config{Staleness: 45 * time.Minute})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.SourceCount)
	assert.Equal(t, 0, report.AbsentCount)
	assert.Equal(t, 0, report.UnhealthyCount)
}

func TestRunOnce_UnhealthyDistinctFromAbsent(t *testing.T) {
	repo := source.NewMemoryRepository()
	ids := populate(repo, 4, 2*time.Hour)

	dest := NewMemoryDestinationChecker()
	dest.Statuses[ids[0]] = model.StatusSuccess
	dest.Statuses[ids[1]] = model.StatusPartial
	dest.Statuses[ids[2]] = model.StatusFailed
	// ids[3] absent entirely.

	ch := &captureChannel{}
	r := New(repo, dest, ch, Config{Staleness: 45 * time.Minute})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.AbsentCount)
	assert.Equal(t, 2, report.UnhealthyCount)

	kinds := map[string]model.GapKind{}
	statuses := map[string]model.MaskingStatus{}
	for _, gap := range report.Sample {
		kinds[gap.EventID] = gap.Kind
		statuses[gap.EventID] = gap.Status
	}
	assert.Equal(t, model.GapUnhealthy, kinds[ids[1]])
	assert.Equal(t, model.StatusPartial, statuses[ids[1]])
	assert.Equal(t, model.GapUnhealthy, kinds[ids[2]])
	assert.Equal(t, model.GapAbsent, kinds[ids[3]])
	assert.NotContains(t, kinds, ids[0])
}

func TestRunOnce_SampleBounded(t *testing.T) {
	repo := source.NewMemoryRepository()
	populate(repo, 50, 2*time.Hour)

	ch := &captureChannel{}
	r := New(repo, NewMemoryDestinationChecker(), ch, Config{
		Staleness:  45 * time.Minute,
		SampleSize: 5,
	})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, report.AbsentCount)
	assert.Len(t, report.Sample, 5)
}

func TestRunOnce_BatchesDestinationLookups(t *testing.T) {
	repo := source.NewMemoryRepository()
	ids := populate(repo, 23, 2*time.Hour)

	dest := NewMemoryDestinationChecker()
	for _, id := range ids {
		dest.Statuses[id] = model.StatusSuccess
	}

	ch := &captureChannel{}
	r := New(repo, dest, ch, Config{
		Staleness:      45 * time.Minute,
		CheckBatchSize: 10,
	})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 23, report.SourceCount)
	assert.Equal(t, 0, report.AbsentCount)
	assert.Equal(t, 0, report.UnhealthyCount)
}

func TestRunOnce_SourceFailureIsOperationalError(t *testing.T) {
	ch := &captureChannel{}
	r := New(erroringSource{}, NewMemoryDestinationChecker(), ch, Config{Staleness: 45 * time.Minute})

	_, err := r.RunOnce(context.Background())
	require.Error(t, err)

	// A failed run delivers no gap report.
	assert.Empty(t, ch.reports)
}

func TestStartStop(t *testing.T) {
	repo := source.NewMemoryRepository()
	populate(repo, 3, 2*time.Hour)

	ch := &captureChannel{}
	r := New(repo, NewMemoryDestinationChecker(), ch, Config{
		Staleness: 45 * time.Minute,
		Interval:  10 * time.Millisecond,
	})

	r.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	assert.NotEmpty(t, ch.reports)
}
