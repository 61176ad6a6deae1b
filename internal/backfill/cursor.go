// Package backfill replays the historical source population through the
// same masking path the live stream uses.
package backfill

import (
	"context"
	"sync"

	"github.com/veilstream/veilstream/internal/model"
)

// CursorStore persists backfill progress so a restarted run resumes after
// the last committed batch instead of reprocessing it.
type CursorStore interface {
	// Load returns the stored cursor. found is false when no run has
	// checkpointed yet.
	Load(ctx context.Context) (cursor model.BackfillCursor, found bool, err error)

	// Save checkpoints the cursor. Called only after the batch it
	// describes has fully committed, never before.
	Save(ctx context.Context, cursor model.BackfillCursor) error
}

// MemoryCursorStore is an in-memory CursorStore for tests.
type MemoryCursorStore struct {
	mu     sync.Mutex
	cursor model.BackfillCursor
	saved  bool
}

// NewMemoryCursorStore creates an empty cursor store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{}
}

// Load returns the checkpointed cursor, if any.
func (s *MemoryCursorStore) Load(ctx context.Context) (model.BackfillCursor, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.BackfillCursor{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.saved, nil
}

// Save checkpoints the cursor.
func (s *MemoryCursorStore) Save(ctx context.Context, cursor model.BackfillCursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	s.saved = true
	return nil
}
