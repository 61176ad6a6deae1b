package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilstream/veilstream/internal/dlq"
	"github.com/veilstream/veilstream/internal/masking"
	"github.com/veilstream/veilstream/internal/messaging"
	"github.com/veilstream/veilstream/internal/model"
	"github.com/veilstream/veilstream/internal/pipeline"
	"github.com/veilstream/veilstream/internal/sink"
)

// fakeMsg satisfies jetstream.Msg and records acknowledgment outcomes.
type fakeMsg struct {
	data     []byte
	acked    bool
	naked    bool
	nakDelay time.Duration
}

func (m *fakeMsg) Data() []byte                    { return m.data }
func (m *fakeMsg) Ack() error                      { m.acked = true; return nil }
func (m *fakeMsg) DoubleAck(context.Context) error { m.acked = true; return nil }
func (m *fakeMsg) Nak() error                      { m.naked = true; return nil }

func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.naked = true
	m.nakDelay = d
	return nil
}

func (m *fakeMsg) InProgress() error                         { return nil }
func (m *fakeMsg) Term() error                               { return nil }
func (m *fakeMsg) TermWithReason(string) error               { return nil }
func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) { return &jetstream.MsgMetadata{}, nil }
func (m *fakeMsg) Headers() nats.Header                      { return nil }
func (m *fakeMsg) Subject() string                           { return "events.raw.test" }
func (m *fakeMsg) Reply() string                             { return "" }

type stubClassifier struct {
	err error
}

func (c *stubClassifier) Redact(ctx context.Context, value string, method masking.Method) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return "[REDACTED]", nil
}

type countingPublisher struct {
	published int
	err       error
}

func (p *countingPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.published++
	return nil
}

func newTestConsumer(classifier masking.Classifier, s sink.Sink, pub messaging.Publisher) *Consumer {
	pool := masking.NewPool(classifier, &masking.Policy{
		Fields: map[string]masking.Method{"email": masking.MethodRedact},
	}, nil, masking.Config{
		MaxConcurrent: 2,
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
	})
	proc := pipeline.NewProcessor(pool, s, dlq.NewRouter(pub, nil), pipeline.SinkRetryConfig{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	})
	return New(nil, proc, Config{DedupWindow: 16, NakDelay: 2 * time.Second})
}

func encodeEvent(t *testing.T, id string) []byte {
	t.Helper()
	data, err := json.Marshal(model.RawEvent{
		EventID:         id,
		Payload:         map[string]any{"email": "x@y.com"},
		SourceTimestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	return data
}

func TestHandle_TerminalStateAcks(t *testing.T) {
	s := sink.NewMemorySink()
	c := newTestConsumer(&stubClassifier{}, s, &countingPublisher{})

	msg := &fakeMsg{data: encodeEvent(t, "evt-1")}
	c.handle(context.Background(), msg)

	assert.True(t, msg.acked)
	assert.False(t, msg.naked)

	_, ok := s.Get("evt-1")
	assert.True(t, ok)
	assert.True(t, c.dedup.Contains("evt-1"))
}

func TestHandle_DuplicateAckedWithoutReprocessing(t *testing.T) {
	s := sink.NewMemorySink()
	c := newTestConsumer(&stubClassifier{}, s, &countingPublisher{})
	c.dedup.Add("evt-dup")

	msg := &fakeMsg{data: encodeEvent(t, "evt-dup")}
	c.handle(context.Background(), msg)

	assert.True(t, msg.acked)
	assert.Equal(t, 0, s.Len())
}

func TestHandle_MalformedDeadLetteredAndAcked(t *testing.T) {
	s := sink.NewMemorySink()
	pub := &countingPublisher{}
	c := newTestConsumer(&stubClassifier{}, s, pub)

	msg := &fakeMsg{data: []byte("not json")}
	c.handle(context.Background(), msg)

	assert.True(t, msg.acked)
	assert.Equal(t, 1, pub.published)
	assert.Equal(t, 0, s.Len())
}

func TestHandle_NonTerminalNaksWithDelay(t *testing.T) {
	// Quota exhaustion normally dead-letters, but with the DLQ publish
	// failing too the event has no terminal state and must redeliver.
	s := sink.NewMemorySink()
	pub := &countingPublisher{err: errors.New("stream unavailable")}
	c := newTestConsumer(&stubClassifier{err: masking.ErrQuotaExceeded}, s, pub)

	msg := &fakeMsg{data: encodeEvent(t, "evt-stuck")}
	c.handle(context.Background(), msg)

	assert.False(t, msg.acked)
	assert.True(t, msg.naked)
	assert.Equal(t, 2*time.Second, msg.nakDelay)
	assert.False(t, c.dedup.Contains("evt-stuck"))
}

// deadlineClassifier records whether each call observed a context deadline.
type deadlineClassifier struct {
	deadlines []bool
}

func (c *deadlineClassifier) Redact(ctx context.Context, value string, method masking.Method) (string, error) {
	_, ok := ctx.Deadline()
	c.deadlines = append(c.deadlines, ok)
	return "[REDACTED]", nil
}

type fakeBatch struct {
	msgs chan jetstream.Msg
}

func newFakeBatch(msgs ...jetstream.Msg) *fakeBatch {
	ch := make(chan jetstream.Msg, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeBatch{msgs: ch}
}

func (b *fakeBatch) Messages() <-chan jetstream.Msg { return b.msgs }
func (b *fakeBatch) Error() error                   { return nil }

func TestProcessBatch_NoDeadlineInNormalOperation(t *testing.T) {
	classifier := &deadlineClassifier{}
	c := newTestConsumer(classifier, sink.NewMemorySink(), &countingPublisher{})

	m1 := &fakeMsg{data: encodeEvent(t, "evt-a")}
	m2 := &fakeMsg{data: encodeEvent(t, "evt-b")}
	c.processBatch(context.Background(), newFakeBatch(m1, m2))

	assert.True(t, m1.acked)
	assert.True(t, m2.acked)
	// A live loop context carries no deadline, so a slow batch can spend
	// its full masking retry budget without being cut off mid-flight.
	require.Len(t, classifier.deadlines, 2)
	assert.False(t, classifier.deadlines[0])
	assert.False(t, classifier.deadlines[1])
}

func TestProcessBatch_ShutdownDrainsRemaining(t *testing.T) {
	classifier := &deadlineClassifier{}
	c := newTestConsumer(classifier, sink.NewMemorySink(), &countingPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m1 := &fakeMsg{data: encodeEvent(t, "evt-c")}
	m2 := &fakeMsg{data: encodeEvent(t, "evt-d")}
	c.processBatch(ctx, newFakeBatch(m1, m2))

	// Shutdown mid-batch still drives every message to a terminal state,
	// under a bounded drain deadline rather than the canceled context.
	assert.True(t, m1.acked)
	assert.True(t, m2.acked)
	require.Len(t, classifier.deadlines, 2)
	assert.True(t, classifier.deadlines[0])
	assert.True(t, classifier.deadlines[1])
}

func TestDecodeEvent(t *testing.T) {
	event, err := decodeEvent([]byte(`{"eventId":"e1","payload":{"email":"x@y.com"}}`))
	require.NoError(t, err)
	assert.Equal(t, "e1", event.EventID)
	assert.False(t, event.ReceivedAt.IsZero())

	_, err = decodeEvent([]byte(`{"payload":{}}`))
	require.Error(t, err)

	_, err = decodeEvent([]byte(`{`))
	require.Error(t, err)
}
