package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilstream/veilstream/internal/metrics"
	"github.com/veilstream/veilstream/internal/model"
)

// PostgresSink writes masked records to the destination table using an
// upsert keyed by event_id.
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresSink creates a sink on an existing pool. The pool is owned
// by the caller.
func NewPostgresSink(pool *pgxpool.Pool, table string) *PostgresSink {
	if table == "" {
		table = "masked_events"
	}
	return &PostgresSink{pool: pool, table: table}
}

// Write upserts the record. A redelivered event overwrites its earlier row
// rather than creating a second one.
func (s *PostgresSink) Write(ctx context.Context, record *model.MaskedRecord) error {
	start := time.Now()
	defer func() {
		metrics.SinkWriteDuration.Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (event_id, payload, source_timestamp, masked_at, masking_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			source_timestamp = EXCLUDED.source_timestamp,
			masked_at = EXCLUDED.masked_at,
			masking_status = EXCLUDED.masking_status
	`, s.table)

	_, err = s.pool.Exec(ctx, query,
		record.EventID, payload, record.SourceTimestamp,
		record.MaskedAt, string(record.MaskingStatus),
	)
	if err != nil {
		metrics.SinkWriteErrors.Inc()

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Unique violations cannot happen through the upsert path;
			// one here means a schema or key bug.
			if pgErr.Code == "23505" {
				metrics.SinkConflicts.Inc()
				return fmt.Errorf("%w: event_id=%s: %v", ErrConflict, record.EventID, err)
			}
			return fmt.Errorf("write masked record: %w", err)
		}

		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Close is a no-op; the shared connection pool is closed by its owner.
func (s *PostgresSink) Close() {}
