// Package sink commits masked records to the destination store with
// idempotent, upsert-based writes.
package sink

import (
	"context"
	"errors"

	"github.com/veilstream/veilstream/internal/model"
)

var (
	// ErrUnavailable means the destination could not be reached. Transient.
	ErrUnavailable = errors.New("destination unavailable")

	// ErrConflict means an upsert collided in a way the idempotency key
	// should have prevented. Treated as a bug, never retried.
	ErrConflict = errors.New("sink write conflict")
)

// Sink writes masked records keyed by event ID. Write must be an upsert:
// retrying the same record must not create a duplicate row.
type Sink interface {
	Write(ctx context.Context, record *model.MaskedRecord) error
	Close()
}
