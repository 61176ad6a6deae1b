package backfill

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilstream/veilstream/internal/model"
)

// cursorID is the single-row key: one backfill run per deployment.
const cursorID = "backfill"

// PostgresCursorStore persists the cursor in the backfill_cursor table.
type PostgresCursorStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCursorStore creates a cursor store on an existing pool.
func NewPostgresCursorStore(pool *pgxpool.Pool) *PostgresCursorStore {
	return &PostgresCursorStore{pool: pool}
}

// Load returns the checkpointed cursor, if any.
func (s *PostgresCursorStore) Load(ctx context.Context) (model.BackfillCursor, bool, error) {
	query := `
		SELECT last_processed_key, end_key, processed_count, quota_budget_remaining, updated_at
		FROM backfill_cursor
		WHERE id = $1
	`

	var cursor model.BackfillCursor
	err := s.pool.QueryRow(ctx, query, cursorID).Scan(
		&cursor.LastProcessedKey, &cursor.EndKey,
		&cursor.ProcessedCount, &cursor.QuotaBudgetRemaining,
		&cursor.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BackfillCursor{}, false, nil
		}
		return model.BackfillCursor{}, false, fmt.Errorf("load backfill cursor: %w", err)
	}

	return cursor, true, nil
}

// Save upserts the cursor row.
func (s *PostgresCursorStore) Save(ctx context.Context, cursor model.BackfillCursor) error {
	query := `
		INSERT INTO backfill_cursor (id, last_processed_key, end_key, processed_count, quota_budget_remaining, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			last_processed_key = EXCLUDED.last_processed_key,
			end_key = EXCLUDED.end_key,
			processed_count = EXCLUDED.processed_count,
			quota_budget_remaining = EXCLUDED.quota_budget_remaining,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query, cursorID,
		cursor.LastProcessedKey, cursor.EndKey,
		cursor.ProcessedCount, cursor.QuotaBudgetRemaining,
		cursor.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save backfill cursor: %w", err)
	}

	return nil
}
