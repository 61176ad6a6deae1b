// Package consumer pulls raw events from the durable feed and drives them
// to a terminal state before acknowledging.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/veilstream/veilstream/internal/logging"
	"github.com/veilstream/veilstream/internal/masking"
	natsclient "github.com/veilstream/veilstream/internal/messaging/nats"
	"github.com/veilstream/veilstream/internal/metrics"
	"github.com/veilstream/veilstream/internal/model"
	"github.com/veilstream/veilstream/internal/pipeline"
)

// Config controls batch sizes and acknowledgment behavior.
type Config struct {
	StreamName   string
	ConsumerName string
	BatchSize    int
	FetchTimeout time.Duration
	AckWait      time.Duration
	MaxDeliver   int

	// DedupWindow is how many recently-terminal event IDs to remember.
	DedupWindow int

	// AckExtendAfter is how long an event may be in flight before the
	// acknowledgment deadline is extended to prevent premature redelivery.
	AckExtendAfter time.Duration

	// DrainTimeout bounds how long shutdown waits for in-flight events
	// to reach a terminal state.
	DrainTimeout time.Duration

	// NakDelay is the redelivery delay for events that failed to reach a
	// terminal state.
	NakDelay time.Duration
}

// Consumer fetches batches from the events stream. An event is
// acknowledged only once it has been sunk or dead-lettered; anything else
// is negatively acknowledged and redelivered.
type Consumer struct {
	js        *natsclient.JetStreamClient
	processor *pipeline.Processor
	cfg       Config
	dedup     *Window

	wg sync.WaitGroup
}

// New creates a consumer over the given JetStream client.
func New(js *natsclient.JetStreamClient, processor *pipeline.Processor, cfg Config) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.AckExtendAfter <= 0 {
		cfg.AckExtendAfter = 20 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.NakDelay <= 0 {
		cfg.NakDelay = 5 * time.Second
	}

	return &Consumer{
		js:        js,
		processor: processor,
		cfg:       cfg,
		dedup:     NewWindow(cfg.DedupWindow),
	}
}

// Start ensures the stream and durable consumer exist and begins fetching.
// It returns immediately; call Stop to drain.
func (c *Consumer) Start(ctx context.Context) error {
	if _, err := c.js.CreateOrUpdateStream(ctx, natsclient.EventsStream); err != nil {
		return fmt.Errorf("ensure events stream: %w", err)
	}

	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.StreamName, natsclient.ConsumerConfig{
		Name:          c.cfg.ConsumerName,
		FilterSubject: "events.raw.>",
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
		MaxAckPending: c.cfg.BatchSize * 2,
	})
	if err != nil {
		return fmt.Errorf("ensure events consumer: %w", err)
	}

	c.wg.Add(1)
	go c.run(ctx, cons)

	return nil
}

// Stop waits for the fetch loop (and its in-flight batch) to finish.
func (c *Consumer) Stop() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, cons jetstream.Consumer) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			slog.Info("consumer stopping")
			return
		}

		msgs, err := cons.Fetch(c.cfg.BatchSize, jetstream.FetchMaxWait(c.cfg.FetchTimeout))
		if err != nil {
			slog.Warn("fetch failed", logging.Error(err))
			if sleepErr := sleepCtx(ctx, time.Second); sleepErr != nil {
				return
			}
			continue
		}

		c.processBatch(ctx, msgs)

		if msgs.Error() != nil {
			slog.Debug("fetch completed with error", logging.Error(msgs.Error()))
		}
	}
}

// processBatch drives every fetched message to a terminal state. In normal
// operation each message runs under the loop context with no deadline, so
// slow masking spends its full retry budget. Once shutdown is observed
// mid-batch, the remaining messages finish under a bounded drain deadline
// instead of being abandoned without an acknowledgment decision.
func (c *Consumer) processBatch(ctx context.Context, msgs jetstream.MessageBatch) {
	var drainCtx context.Context
	var drainCancel context.CancelFunc
	defer func() {
		if drainCancel != nil {
			drainCancel()
		}
	}()

	for msg := range msgs.Messages() {
		msgCtx := ctx
		if ctx.Err() != nil {
			if drainCtx == nil {
				drainCtx, drainCancel = context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DrainTimeout)
			}
			msgCtx = drainCtx
		}
		c.handle(msgCtx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	event, err := decodeEvent(msg.Data())
	if err != nil {
		// Unparseable input can never complete the pipeline; it goes
		// straight to the dead-letter stream as a permanent failure.
		metrics.EventsConsumed.WithLabelValues("malformed").Inc()
		if dlErr := c.processor.DeadLetterRaw(ctx, msg.Data(), err); dlErr != nil {
			slog.Error("failed to dead-letter malformed message", logging.Error(dlErr))
			_ = msg.NakWithDelay(c.cfg.NakDelay)
			return
		}
		_ = msg.Ack()
		return
	}

	if c.dedup.Contains(event.EventID) {
		metrics.EventsDeduplicated.Inc()
		_ = msg.Ack()
		return
	}

	done := make(chan struct{})
	go c.extendAck(ctx, msg, event.EventID, done)

	err = c.processor.Process(ctx, masking.CallerStream, event)
	close(done)

	if err != nil {
		metrics.EventsConsumed.WithLabelValues("retry").Inc()
		slog.Warn("event did not reach terminal state, requeueing",
			logging.EventID(event.EventID),
			logging.Error(err),
		)
		_ = msg.NakWithDelay(c.cfg.NakDelay)
		return
	}

	metrics.EventsConsumed.WithLabelValues("terminal").Inc()
	c.dedup.Add(event.EventID)
	_ = msg.Ack()
}

// extendAck keeps resetting the acknowledgment deadline while the event is
// still being masked, so slow masking never causes premature redelivery.
func (c *Consumer) extendAck(ctx context.Context, msg jetstream.Msg, eventID string, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.AckExtendAfter)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := msg.InProgress(); err != nil {
				slog.Warn("failed to extend ack deadline",
					logging.EventID(eventID),
					logging.Error(err),
				)
				return
			}
			metrics.AckExtensions.Inc()
		}
	}
}

// decodeEvent parses a feed message into a RawEvent and stamps ReceivedAt.
func decodeEvent(data []byte) (*model.RawEvent, error) {
	var event model.RawEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if event.EventID == "" {
		return nil, fmt.Errorf("event missing eventId")
	}
	event.ReceivedAt = time.Now().UTC()
	return &event, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
