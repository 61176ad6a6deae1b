// Package dlq routes events that exhausted their processing path to a
// terminal dead-letter stream, and archives entries for triage.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veilstream/veilstream/internal/logging"
	"github.com/veilstream/veilstream/internal/messaging"
	"github.com/veilstream/veilstream/internal/metrics"
	"github.com/veilstream/veilstream/internal/model"
)

// Classify maps a failure kind to its replayability class. Transient kinds
// may be replayed by an operator once the underlying condition clears;
// permanent kinds need human remediation first.
func Classify(kind model.FailureKind) model.ErrorClass {
	switch kind {
	case model.FailureQuota, model.FailureUnavailable:
		return model.ClassRetryable
	default:
		return model.ClassPermanent
	}
}

// Router builds DeadLetterEntry records and publishes them to the DLQ
// stream. It never re-injects events into the live pipeline.
type Router struct {
	publisher messaging.Publisher
	archiver  *Archiver
}

// NewRouter creates a dead-letter router. archiver may be nil.
func NewRouter(publisher messaging.Publisher, archiver *Archiver) *Router {
	return &Router{
		publisher: publisher,
		archiver:  archiver,
	}
}

// Route publishes a dead-letter entry for the event and returns it.
func (r *Router) Route(ctx context.Context, event *model.RawEvent, kind model.FailureKind, attempts int, detail string) (*model.DeadLetterEntry, error) {
	class := Classify(kind)

	entry := &model.DeadLetterEntry{
		ID:            uuid.New().String(),
		Event:         event,
		ErrorKind:     kind,
		ErrorClass:    class,
		ErrorDetail:   detail,
		AttemptCount:  attempts,
		FirstFailedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal dead-letter entry: %w", err)
	}

	subject := messaging.DLQSubject(strings.ToLower(string(class)))
	if err := r.publisher.Publish(ctx, subject, data); err != nil {
		return nil, fmt.Errorf("publish dead-letter entry: %w", err)
	}

	metrics.DeadLettered.WithLabelValues(string(kind), string(class)).Inc()
	slog.Warn("event dead-lettered",
		logging.EventID(event.EventID),
		logging.ErrorKind(string(kind)),
		slog.String("error_class", string(class)),
		logging.Attempts(attempts),
	)

	if r.archiver != nil {
		r.archiver.Add(entry)
	}

	return entry, nil
}
