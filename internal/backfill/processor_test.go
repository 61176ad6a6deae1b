package backfill

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilstream/veilstream/internal/dlq"
	"github.com/veilstream/veilstream/internal/masking"
	"github.com/veilstream/veilstream/internal/messaging"
	"github.com/veilstream/veilstream/internal/model"
	"github.com/veilstream/veilstream/internal/pipeline"
	"github.com/veilstream/veilstream/internal/sink"
	"github.com/veilstream/veilstream/internal/source"
)

type passClassifier struct{}

func (passClassifier) Redact(ctx context.Context, value string, method masking.Method) (string, error) {
	return "[REDACTED]", nil
}

// nopPublisher accepts every dead-letter publication.
type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, subject string, data []byte) error { return nil }

// failingPublisher rejects publications mentioning one event ID, forcing
// the pipeline to report a non-terminal state for it.
type failingPublisher struct {
	failFor string
}

func (p *failingPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.failFor != "" && bytes.Contains(data, []byte(p.failFor)) {
		return fmt.Errorf("broker rejected entry")
	}
	return nil
}

// selectiveSink refuses writes for one event ID.
type selectiveSink struct {
	*sink.MemorySink
	failID string
}

func (s *selectiveSink) Write(ctx context.Context, record *model.MaskedRecord) error {
	if record.EventID == s.failID {
		return sink.ErrUnavailable
	}
	return s.MemorySink.Write(ctx, record)
}

// countingSink wraps MemorySink and counts writes per event ID.
type countingSink struct {
	*sink.MemorySink
	mu     sync.Mutex
	writes map[string]int
}

func newCountingSink() *countingSink {
	return &countingSink{
		MemorySink: sink.NewMemorySink(),
		writes:     make(map[string]int),
	}
}

func (s *countingSink) Write(ctx context.Context, record *model.MaskedRecord) error {
	s.mu.Lock()
	s.writes[record.EventID]++
	s.mu.Unlock()
	return s.MemorySink.Write(ctx, record)
}

func newBackfillPipeline(s sink.Sink, pub messaging.Publisher) *pipeline.Processor {
	pool := masking.NewPool(passClassifier{}, &masking.Policy{
		Fields: map[string]masking.Method{"email": masking.MethodRedact},
	}, nil, masking.Config{
		MaxConcurrent: 4,
		BackfillShare: 0.5,
		MaxAttempts:   2,
		BackoffBase:   time.Millisecond,
		BackoffCap:    2 * time.Millisecond,
	})
	return pipeline.NewProcessor(pool, s, dlq.NewRouter(pub, nil), pipeline.SinkRetryConfig{
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
	})
}

func seedSource(n int) *source.MemoryRepository {
	repo := source.NewMemoryRepository()
	base := time.Now().UTC().Add(-24 * time.Hour)
	for i := 0; i < n; i++ {
		repo.Add(model.RawEvent{
			EventID:         fmt.Sprintf("evt-%03d", i),
			Payload:         map[string]any{"email": fmt.Sprintf("user%d@example.com", i)},
			SourceTimestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return repo
}

func TestRun_ProcessesWholeRange(t *testing.T) {
	repo := seedSource(7)
	cursors := NewMemoryCursorStore()
	s := newCountingSink()
	proc := New(repo, cursors, newBackfillPipeline(s, nopPublisher{}), Config{BatchSize: 3})

	require.NoError(t, proc.Run(context.Background()))

	assert.Equal(t, 7, s.Len())
	for id, n := range s.writes {
		assert.Equal(t, 1, n, "event %s written %d times", id, n)
	}

	cursor, found, err := cursors.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, cursor.Done())
	assert.Equal(t, int64(7), cursor.ProcessedCount)
	assert.Equal(t, "evt-006", cursor.LastProcessedKey)
}

func TestRun_EmptySource(t *testing.T) {
	repo := source.NewMemoryRepository()
	cursors := NewMemoryCursorStore()
	s := newCountingSink()
	proc := New(repo, cursors, newBackfillPipeline(s, nopPublisher{}), Config{BatchSize: 3})

	require.NoError(t, proc.Run(context.Background()))

	_, found, err := cursors.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRun_ResumeAfterFailure(t *testing.T) {
	repo := seedSource(6)
	cursors := NewMemoryCursorStore()
	s := newCountingSink()

	// First run: evt-002 cannot reach a terminal state because both its
	// sink write and its dead-letter publication fail, so the run stops
	// with the cursor at the last committed batch.
	pub := &failingPublisher{failFor: "evt-002"}
	brokenSink := &selectiveSink{MemorySink: sink.NewMemorySink(), failID: "evt-002"}
	failing := New(repo, cursors, newBackfillPipeline(brokenSink, pub), Config{BatchSize: 2})

	err := failing.Run(context.Background())
	require.Error(t, err)

	cursor, found, lerr := cursors.Load(context.Background())
	require.NoError(t, lerr)
	require.True(t, found)
	committed := cursor.LastProcessedKey
	assert.Equal(t, "evt-001", committed)

	// Second run with healthy collaborators resumes at the checkpoint.
	resumed := New(repo, cursors, newBackfillPipeline(s, nopPublisher{}), Config{BatchSize: 2})
	require.NoError(t, resumed.Run(context.Background()))

	cursor, _, _ = cursors.Load(context.Background())
	assert.True(t, cursor.Done())

	// No committed key was reprocessed and nothing past the checkpoint
	// was skipped.
	for id, n := range s.writes {
		assert.Equal(t, 1, n, "event %s written %d times on resume", id, n)
		assert.Greater(t, id, committed, "event %s was already committed before the restart", id)
	}
	assert.Equal(t, int64(6), cursor.ProcessedCount)
}

func TestRun_SnapshotExcludesLaterAppends(t *testing.T) {
	repo := seedSource(4)
	cursors := NewMemoryCursorStore()
	s := newCountingSink()
	proc := New(repo, cursors, newBackfillPipeline(s, nopPublisher{}), Config{BatchSize: 10})

	require.NoError(t, proc.Run(context.Background()))
	require.Equal(t, 4, s.Len())

	// Records appended after the run belong to the live stream; a second
	// run leaves them alone.
	repo.Add(model.RawEvent{
		EventID:         "evt-900",
		Payload:         map[string]any{"email": "late@example.com"},
		SourceTimestamp: time.Now().UTC(),
	})
	require.NoError(t, proc.Run(context.Background()))

	assert.Equal(t, 4, s.Len())
	_, ok := s.Get("evt-900")
	assert.False(t, ok)
}

func TestRun_QuotaBudget(t *testing.T) {
	repo := seedSource(5)
	cursors := NewMemoryCursorStore()
	s := newCountingSink()
	proc := New(repo, cursors, newBackfillPipeline(s, nopPublisher{}), Config{
		BatchSize:   2,
		QuotaBudget: 3,
	})

	require.NoError(t, proc.Run(context.Background()))

	// The run stops once the budget is spent, short of the full range.
	assert.Equal(t, 3, s.Len())

	cursor, _, _ := cursors.Load(context.Background())
	assert.False(t, cursor.Done())
	assert.Equal(t, int64(0), cursor.QuotaBudgetRemaining)
	assert.Equal(t, int64(3), cursor.ProcessedCount)
}

func TestRun_CanceledContext(t *testing.T) {
	repo := seedSource(5)
	cursors := NewMemoryCursorStore()
	s := newCountingSink()
	proc := New(repo, cursors, newBackfillPipeline(s, nopPublisher{}), Config{BatchSize: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := proc.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
