package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLineSource reads transaction line items from PostgreSQL. It only
// ever SELECTs; the tables it reads belong to the transaction modules.
type PGLineSource struct {
	pool *pgxpool.Pool
}

// NewPGLineSource constructs PGLineSource.
func NewPGLineSource(pool *pgxpool.Pool) *PGLineSource {
	return &PGLineSource{pool: pool}
}

// Lines returns the line items of one transaction header in line order.
// Unknown headers yield an empty slice, not an error.
func (s *PGLineSource) Lines(ctx context.Context, kind TransactionKind, headerID int64) ([]TransactionLine, error) {
	if s == nil {
		return nil, errors.New("ledger line source not initialised")
	}
	rows, err := s.pool.Query(ctx, `SELECT id, product_id, COALESCE(product_sku, ''), COALESCE(product_name, ''), quantity, mass, unit_value,
COALESCE(batch_code, ''), COALESCE(serial_code, ''), COALESCE(location, ''), occurred_at
FROM transaction_lines
WHERE transaction_kind = $1 AND transaction_id = $2
ORDER BY id ASC`, string(kind), headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []TransactionLine{}
	for rows.Next() {
		var (
			line       TransactionLine
			occurredAt *time.Time
		)
		if err := rows.Scan(&line.LineID, &line.ProductID, &line.ProductSKU, &line.ProductName, &line.Quantity, &line.Mass, &line.UnitValue,
			&line.BatchCode, &line.SerialCode, &line.Location, &occurredAt); err != nil {
			return nil, err
		}
		if occurredAt != nil {
			line.OccurredAt = *occurredAt
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
