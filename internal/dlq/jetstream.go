package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/veilstream/veilstream/internal/logging"
	"github.com/veilstream/veilstream/internal/messaging"
	natsclient "github.com/veilstream/veilstream/internal/messaging/nats"
	"github.com/veilstream/veilstream/internal/model"
)

// JetStreamQueue is the durable dead-letter store. Safe for use across
// multiple pipeline instances.
type JetStreamQueue struct {
	js     *natsclient.JetStreamClient
	stream jetstream.Stream
}

var _ messaging.Publisher = (*JetStreamQueue)(nil)

// NewJetStreamQueue ensures the DLQ stream exists and returns a handle to it.
func NewJetStreamQueue(ctx context.Context, js *natsclient.JetStreamClient) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, natsclient.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	return &JetStreamQueue{
		js:     js,
		stream: stream,
	}, nil
}

// Publish writes a dead-letter payload to the stream with delivery
// confirmation. Satisfies messaging.Publisher for the Router.
func (q *JetStreamQueue) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := q.js.PublishSync(ctx, subject, data)
	return err
}

// List returns up to limit entries currently held in the dead-letter stream.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]model.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	// Ephemeral consumer so listing does not disturb replay consumers.
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: messaging.SubjectDLQPrefix + ".>",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var entries []model.DeadLetterEntry
	for msg := range msgs.Messages() {
		var entry model.DeadLetterEntry
		if err := json.Unmarshal(msg.Data(), &entry); err != nil {
			slog.Error("failed to parse dead-letter message", logging.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	if msgs.Error() != nil {
		slog.Warn("fetch completed with error", logging.Error(msgs.Error()))
	}

	return entries, nil
}

// Replay republishes retryable entries' original events to the feed and
// acknowledges them on a durable consumer so repeated replays skip entries
// already handled. Entries remain in the stream until retention expires.
// Permanent entries are never replayed.
func (q *JetStreamQueue) Replay(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          "dlq-replay",
		Durable:       "dlq-replay",
		FilterSubject: messaging.DLQSubject("retryable"),
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return 0, fmt.Errorf("create replay consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return 0, fmt.Errorf("fetch messages: %w", err)
	}

	replayed := 0
	for msg := range msgs.Messages() {
		var entry model.DeadLetterEntry
		if err := json.Unmarshal(msg.Data(), &entry); err != nil {
			slog.Error("failed to parse dead-letter message", logging.Error(err))
			_ = msg.Ack()
			continue
		}

		if entry.Event == nil {
			_ = msg.Ack()
			continue
		}

		data, err := json.Marshal(entry.Event)
		if err != nil {
			slog.Error("failed to marshal replayed event", logging.Error(err))
			_ = msg.Ack()
			continue
		}

		subject := messaging.SubjectEventsRaw + "." + entry.Event.EventID
		if _, err := q.js.PublishSync(ctx, subject, data); err != nil {
			// Leave unacked so the next replay picks it up again.
			return replayed, fmt.Errorf("republish event %s: %w", entry.Event.EventID, err)
		}

		_ = msg.Ack()
		replayed++
	}

	return replayed, nil
}

// Stats returns dead-letter stream metrics.
func (q *JetStreamQueue) Stats(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("get dlq stream info: %w", err)
	}

	return map[string]interface{}{
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
		"consumer_count": info.State.Consumers,
	}, nil
}

// Purge removes all entries from the dead-letter stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}

	slog.Info("dead-letter stream purged")
	return nil
}
