package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilstream/veilstream/internal/model"
)

// DestinationChecker answers which of a set of event IDs reached the
// destination and with what masking status.
type DestinationChecker interface {
	// GetStatuses returns the masking status for every listed ID that has
	// a destination row. IDs with no row are simply absent from the map.
	GetStatuses(ctx context.Context, eventIDs []string) (map[string]model.MaskingStatus, error)
}

// PostgresDestinationChecker reads masking statuses from the destination
// table.
type PostgresDestinationChecker struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresDestinationChecker creates a checker against the given
// destination table.
func NewPostgresDestinationChecker(pool *pgxpool.Pool, table string) *PostgresDestinationChecker {
	if table == "" {
		table = "masked_events"
	}
	return &PostgresDestinationChecker{pool: pool, table: table}
}

func (c *PostgresDestinationChecker) GetStatuses(ctx context.Context, eventIDs []string) (map[string]model.MaskingStatus, error) {
	statuses := make(map[string]model.MaskingStatus, len(eventIDs))
	if len(eventIDs) == 0 {
		return statuses, nil
	}

	query := fmt.Sprintf(`
		SELECT event_id, masking_status
		FROM %s
		WHERE event_id = ANY($1)`, c.table)

	rows, err := c.pool.Query(ctx, query, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("query destination statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan destination status: %w", err)
		}
		statuses[id] = model.MaskingStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate destination statuses: %w", err)
	}
	return statuses, nil
}

// MemoryDestinationChecker is an in-memory checker for tests.
type MemoryDestinationChecker struct {
	Statuses map[string]model.MaskingStatus
}

// NewMemoryDestinationChecker creates an empty in-memory checker.
func NewMemoryDestinationChecker() *MemoryDestinationChecker {
	return &MemoryDestinationChecker{Statuses: make(map[string]model.MaskingStatus)}
}

func (c *MemoryDestinationChecker) GetStatuses(_ context.Context, eventIDs []string) (map[string]model.MaskingStatus, error) {
	out := make(map[string]model.MaskingStatus, len(eventIDs))
	for _, id := range eventIDs {
		if s, ok := c.Statuses[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}
