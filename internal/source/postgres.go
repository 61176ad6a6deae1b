package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilstream/veilstream/internal/model"
)

// PostgresRepository reads the source events table.
type PostgresRepository struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresRepository creates a read-only repository over the source
// table. The pool is owned by the caller.
func NewPostgresRepository(pool *pgxpool.Pool, table string) *PostgresRepository {
	if table == "" {
		table = "source_events"
	}
	return &PostgresRepository{pool: pool, table: table}
}

// ScanRange returns the next batch of historical records in key order.
func (r *PostgresRepository) ScanRange(ctx context.Context, afterKey, endKey string, limit int) ([]model.RawEvent, error) {
	query := fmt.Sprintf(`
		SELECT event_id, payload, source_timestamp
		FROM %s
		WHERE event_id > $1 AND event_id <= $2
		ORDER BY event_id
		LIMIT $3
	`, r.table)

	rows, err := r.pool.Query(ctx, query, afterKey, endKey, limit)
	if err != nil {
		return nil, fmt.Errorf("scan source range: %w", err)
	}
	defer rows.Close()

	var events []model.RawEvent
	for rows.Next() {
		var (
			event   model.RawEvent
			payload []byte
		)
		if err := rows.Scan(&event.EventID, &payload, &event.SourceTimestamp); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("parse source payload %s: %w", event.EventID, err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// MaxKey returns the largest event ID currently in the source table.
func (r *PostgresRepository) MaxKey(ctx context.Context) (string, error) {
	query := fmt.Sprintf(`SELECT MAX(event_id) FROM %s`, r.table)

	var maxKey *string
	err := r.pool.QueryRow(ctx, query).Scan(&maxKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query max source key: %w", err)
	}
	if maxKey == nil {
		return "", nil
	}
	return *maxKey, nil
}

// ListKeysOlderThan returns keys older than the cutoff, in key order.
func (r *PostgresRepository) ListKeysOlderThan(ctx context.Context, cutoff time.Time) ([]KeyInfo, error) {
	query := fmt.Sprintf(`
		SELECT event_id, source_timestamp
		FROM %s
		WHERE source_timestamp < $1
		ORDER BY event_id
	`, r.table)

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale source keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var k KeyInfo
		if err := rows.Scan(&k.EventID, &k.SourceTimestamp); err != nil {
			return nil, fmt.Errorf("scan source key: %w", err)
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}
