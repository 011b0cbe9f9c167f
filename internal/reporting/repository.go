package reporting

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cultiva-erp/cultiva-erp/internal/platform/db"
)

// Repository persists snapshot rows. The cached JSON is the rendered
// report; these rows are the historical record.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the reporting repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveSnapshot writes every line of a snapshot in one transaction, so a
// partially persisted report can never exist.
func (r *Repository) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("reporting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, line := range snapshot.Lines {
			_, err := tx.Exec(ctx, `
INSERT INTO soh_snapshots (product_id, product_sku, quantity, taken_at, requested_by)
VALUES ($1, $2, $3, $4, $5)`,
				line.ProductID, line.ProductSKU, line.Quantity, snapshot.TakenAt, nullStr(snapshot.RequestedBy))
			if err != nil {
				return fmt.Errorf("insert snapshot line: %w", err)
			}
		}
		return nil
	})
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
