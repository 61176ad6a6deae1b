package sink

import (
	"context"
	"sync"

	"github.com/veilstream/veilstream/internal/model"
)

// MemorySink is an in-memory Sink for tests and local development.
// It preserves the destination's upsert semantics: one row per event ID.
type MemorySink struct {
	mu      sync.RWMutex
	records map[string]*model.MaskedRecord

	// FailNext makes the next n writes return ErrUnavailable.
	FailNext int
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		records: make(map[string]*model.MaskedRecord),
	}
}

// Write upserts the record keyed by event ID.
func (s *MemorySink) Write(ctx context.Context, record *model.MaskedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNext > 0 {
		s.FailNext--
		return ErrUnavailable
	}

	clone := *record
	s.records[record.EventID] = &clone
	return nil
}

// Get returns the stored record for an event ID, if any.
func (s *MemorySink) Get(eventID string) (*model.MaskedRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[eventID]
	return r, ok
}

// Len returns the number of distinct rows written.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op for the in-memory sink.
func (s *MemorySink) Close() {}
