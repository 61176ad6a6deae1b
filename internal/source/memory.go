package source

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/veilstream/veilstream/internal/model"
)

// MemoryRepository is an in-memory source population for tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	events map[string]model.RawEvent
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events: make(map[string]model.RawEvent),
	}
}

// Add inserts a record into the source population.
func (r *MemoryRepository) Add(event model.RawEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.EventID] = event
}

// ScanRange mirrors the SQL scan: (afterKey, endKey], ascending key order.
func (r *MemoryRepository) ScanRange(ctx context.Context, afterKey, endKey string, limit int) ([]model.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.sortedKeys()
	var out []model.RawEvent
	for _, k := range keys {
		if k <= afterKey || k > endKey {
			continue
		}
		out = append(out, r.events[k])
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MaxKey returns the largest event ID, or "" when empty.
func (r *MemoryRepository) MaxKey(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.sortedKeys()
	if len(keys) == 0 {
		return "", nil
	}
	return keys[len(keys)-1], nil
}

// ListKeysOlderThan returns keys with a source timestamp before the cutoff.
func (r *MemoryRepository) ListKeysOlderThan(ctx context.Context, cutoff time.Time) ([]KeyInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var keys []KeyInfo
	for _, k := range r.sortedKeys() {
		event := r.events[k]
		if event.SourceTimestamp.Before(cutoff) {
			keys = append(keys, KeyInfo{EventID: event.EventID, SourceTimestamp: event.SourceTimestamp})
		}
	}
	return keys, nil
}

func (r *MemoryRepository) sortedKeys() []string {
	keys := make([]string, 0, len(r.events))
	for k := range r.events {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
