package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilstream/veilstream/internal/messaging"
	"github.com/veilstream/veilstream/internal/model"
)

// mockPublisher records published dead-letter payloads.
type mockPublisher struct {
	subjects []string
	payloads [][]byte
	failNext bool
}

func (m *mockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if m.failNext {
		m.failNext = false
		return errors.New("broker unavailable")
	}
	m.subjects = append(m.subjects, subject)
	m.payloads = append(m.payloads, data)
	return nil
}

var _ messaging.Publisher = (*mockPublisher)(nil)

func TestClassify(t *testing.T) {
	tests := []struct {
		kind model.FailureKind
		want model.ErrorClass
	}{
		{model.FailureQuota, model.ClassRetryable},
		{model.FailureUnavailable, model.ClassRetryable},
		{model.FailureMalformedPayload, model.ClassPermanent},
		{model.FailurePolicyMisconfigured, model.ClassPermanent},
		{model.FailureSinkConflict, model.ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.kind))
		})
	}
}

func TestRoute(t *testing.T) {
	pub := &mockPublisher{}
	router := NewRouter(pub, nil)

	event := &model.RawEvent{
		EventID:         "e2",
		Payload:         map[string]any{"email": "x@y.com"},
		SourceTimestamp: time.Now().UTC(),
	}

	entry, err := router.Route(context.Background(), event, model.FailureQuota, 3, "quota exceeded")
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, model.FailureQuota, entry.ErrorKind)
	assert.Equal(t, model.ClassRetryable, entry.ErrorClass)
	assert.Equal(t, 3, entry.AttemptCount)
	assert.False(t, entry.FirstFailedAt.IsZero())

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "dlq.retryable", pub.subjects[0])

	// The wire format keeps the original event and failure metadata.
	var decoded model.DeadLetterEntry
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, "e2", decoded.Event.EventID)
	assert.Equal(t, model.FailureQuota, decoded.ErrorKind)
	assert.Equal(t, 3, decoded.AttemptCount)
}

func TestRoute_PermanentSubject(t *testing.T) {
	pub := &mockPublisher{}
	router := NewRouter(pub, nil)

	event := &model.RawEvent{EventID: "e3", Payload: map[string]any{}}

	entry, err := router.Route(context.Background(), event, model.FailurePolicyMisconfigured, 1, "unknown method")
	require.NoError(t, err)
	assert.Equal(t, model.ClassPermanent, entry.ErrorClass)
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "dlq.permanent", pub.subjects[0])
}

func TestRoute_PublishFailure(t *testing.T) {
	pub := &mockPublisher{failNext: true}
	router := NewRouter(pub, nil)

	event := &model.RawEvent{EventID: "e4", Payload: map[string]any{}}

	_, err := router.Route(context.Background(), event, model.FailureUnavailable, 2, "sink down")
	require.Error(t, err)
	assert.Empty(t, pub.subjects)
}
