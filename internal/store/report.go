package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type ReportStore struct {
	db *sqlx.DB
}

// ExecutionRows returns one row per commitment with its committed value
// and the sum of liquidated delivery amounts, optionally filtered by
// issuing unit. The statistical summary is computed by the caller.
func (rs *ReportStore) ExecutionRows(ctx context.Context, units []string) ([]ExecutionRow, error) {
	query := `
	SELECT
		n.issuing_unit AS issuing_unit,
		c.amount AS committed_value,
		COALESCE(SUM(d.liquidated_amount), 0) AS liquidated_value
	FROM commitments c
	JOIN credit_notes n ON n.id = c.credit_note_id
	LEFT JOIN deliveries d ON d.commitment_id = c.id AND d.liquidation_date IS NOT NULL
	`

	args := []interface{}{}
	if len(units) > 0 {
		query += `WHERE n.issuing_unit = ANY($1)
	`
		args = append(args, pq.Array(units))
	}
	query += `GROUP BY n.issuing_unit, c.id, c.amount
	ORDER BY n.issuing_unit`

	var rows []ExecutionRow
	if err := rs.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
