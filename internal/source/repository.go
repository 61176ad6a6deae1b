// Package source reads the historical source population: the appendable
// table whose change feed the live pipeline consumes. The backfill
// processor scans it in key order; the audit reconciler lists its stale
// keys. The package never mutates the source.
package source

import (
	"context"
	"time"

	"github.com/veilstream/veilstream/internal/model"
)

// KeyInfo identifies one source record for reconciliation.
type KeyInfo struct {
	EventID         string
	SourceTimestamp time.Time
}

// Repository is the read-only view over the source population.
type Repository interface {
	// ScanRange returns up to limit records with event ID strictly greater
	// than afterKey and no greater than endKey, in ascending key order.
	// Deterministic ordering is what makes backfill resumption safe.
	ScanRange(ctx context.Context, afterKey, endKey string, limit int) ([]model.RawEvent, error)

	// MaxKey returns the largest event ID at call time, or "" when empty.
	// Backfill snapshots this once at run start; later appends belong to
	// the live stream.
	MaxKey(ctx context.Context) (string, error)

	// ListKeysOlderThan returns keys whose source timestamp is strictly
	// older than the cutoff.
	ListKeysOlderThan(ctx context.Context, cutoff time.Time) ([]KeyInfo, error)
}
