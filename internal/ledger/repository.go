package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists stock movements in PostgreSQL. The table is
// append only: the single UPDATE it issues flips the reversal columns
// on active rows and touches nothing else.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// reversalMarker joins the original reason and the reversal note in the
// stored reason column.
const reversalMarker = " REVERSED: "

const movementColumns = `id, product_id, product_sku, product_name, movement_type, direction, quantity, mass, unit_value,
COALESCE(batch_code, ''), COALESCE(serial_code, ''), COALESCE(transaction_kind, ''), COALESCE(transaction_id, 0), COALESCE(transaction_line_id, 0),
reason, occurred_at, created_at, created_by, COALESCE(location, ''), reversed_at, reversed_by`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// SumByProduct aggregates signed quantities over active movements of a
// product, optionally cut off at asOf.
func (r *Repository) SumByProduct(ctx context.Context, productID int64, asOf *time.Time) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, errors.New("ledger repository not initialised")
	}
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN direction = 'IN' THEN quantity ELSE -quantity END), 0)
FROM stock_movements
WHERE product_id = $1 AND reversed_at IS NULL AND ($2::timestamptz IS NULL OR occurred_at <= $2)`, productID, asOf).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// SumByProductBatch aggregates signed quantities over active movements
// of a product narrowed to one batch code.
func (r *Repository) SumByProductBatch(ctx context.Context, productID int64, batchCode string) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, errors.New("ledger repository not initialised")
	}
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN direction = 'IN' THEN quantity ELSE -quantity END), 0)
FROM stock_movements
WHERE product_id = $1 AND batch_code = $2 AND reversed_at IS NULL`, productID, batchCode).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// SumByProducts aggregates signed quantities for many products in one
// round trip. Products without active movements are absent from the
// result.
func (r *Repository) SumByProducts(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT product_id, COALESCE(SUM(CASE WHEN direction = 'IN' THEN quantity ELSE -quantity END), 0)
FROM stock_movements
WHERE product_id = ANY($1) AND reversed_at IS NULL
GROUP BY product_id`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[int64]decimal.Decimal, len(productIDs))
	for rows.Next() {
		var (
			id  int64
			sum decimal.Decimal
		)
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		sums[id] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sums, nil
}

// ListByProduct lists a product's movements ordered by occurrence
// inside the given bounds. Zero bounds mean unbounded.
func (r *Repository) ListByProduct(ctx context.Context, productID int64, from, to time.Time, includeReversed bool) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements
WHERE product_id = $1
  AND occurred_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')
  AND ($4 OR reversed_at IS NULL)
ORDER BY occurred_at ASC, id ASC`, productID, nullTime(from), nullTime(to), includeReversed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// ListByBatch lists movements carrying the batch code.
func (r *Repository) ListByBatch(ctx context.Context, batchCode string, includeReversed bool) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements
WHERE batch_code = $1 AND ($2 OR reversed_at IS NULL)
ORDER BY occurred_at ASC, id ASC`, batchCode, includeReversed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// ListBySerial lists movements carrying the serial code.
func (r *Repository) ListBySerial(ctx context.Context, serialCode string, includeReversed bool) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements
WHERE serial_code = $1 AND ($2 OR reversed_at IS NULL)
ORDER BY occurred_at ASC, id ASC`, serialCode, includeReversed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// ListByTransaction lists movements generated from one transaction
// header in insert order.
func (r *Repository) ListByTransaction(ctx context.Context, kind TransactionKind, headerID int64, includeReversed bool) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements
WHERE transaction_kind = $1 AND transaction_id = $2 AND ($3 OR reversed_at IS NULL)
ORDER BY id ASC`, string(kind), headerID, includeReversed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// ListProducts returns every product with at least one movement, each
// carrying the catalogue fields of its most recent row.
func (r *Repository) ListProducts(ctx context.Context) ([]ProductRef, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (product_id) product_id, product_sku, product_name
FROM stock_movements
ORDER BY product_id ASC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []ProductRef{}
	for rows.Next() {
		var ref ProductRef
		if err := rows.Scan(&ref.ID, &ref.SKU, &ref.Name); err != nil {
			return nil, err
		}
		products = append(products, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, product_sku, product_name, movement_type, direction, quantity, mass, unit_value, batch_code, serial_code, transaction_kind, transaction_id, transaction_line_id, reason, occurred_at, created_at, created_by, location)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18) RETURNING id`,
		m.ProductID, m.ProductSKU, m.ProductName, m.MovementType, string(m.Direction), m.Quantity, m.Mass, m.UnitValue,
		nullStr(m.BatchCode), nullStr(m.SerialCode), nullStr(string(m.Kind)), nullInt(m.TransactionID), nullInt(m.TransactionLineID),
		m.Reason, m.OccurredAt, m.CreatedAt, m.CreatedBy, nullStr(m.Location)).Scan(&id)
	return id, err
}

func (r *txRepository) ReverseByTransaction(ctx context.Context, kind TransactionKind, headerID int64, at time.Time, by, reason string) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_movements
SET reversed_at = $1, reversed_by = $2, reason = reason || $3 || $4
WHERE transaction_kind = $5 AND transaction_id = $6 AND reversed_at IS NULL`,
		at, by, reversalMarker, reason, string(kind), headerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	movements := []Movement{}
	for rows.Next() {
		var (
			m          Movement
			reversedAt *time.Time
			reversedBy *string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &m.ProductSKU, &m.ProductName, &m.MovementType, &m.Direction, &m.Quantity, &m.Mass, &m.UnitValue,
			&m.BatchCode, &m.SerialCode, &m.Kind, &m.TransactionID, &m.TransactionLineID,
			&m.Reason, &m.OccurredAt, &m.CreatedAt, &m.CreatedBy, &m.Location, &reversedAt, &reversedBy); err != nil {
			return nil, err
		}
		if reversedAt != nil {
			rev := &Reversal{At: *reversedAt}
			if reversedBy != nil {
				rev.By = *reversedBy
			}
			m.Reason, rev.Reason = splitReversalReason(m.Reason)
			m.Reversal = rev
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func splitReversalReason(reason string) (original, note string) {
	idx := strings.LastIndex(reason, reversalMarker)
	if idx < 0 {
		return reason, ""
	}
	return reason[:idx], reason[idx+len(reversalMarker):]
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
