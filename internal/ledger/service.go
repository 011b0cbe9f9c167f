package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cultiva-erp/cultiva-erp/internal/shared"
)

// RepositoryPort abstracts movement persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	SumByProduct(ctx context.Context, productID int64, asOf *time.Time) (decimal.Decimal, error)
	SumByProductBatch(ctx context.Context, productID int64, batchCode string) (decimal.Decimal, error)
	SumByProducts(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error)
	ListByProduct(ctx context.Context, productID int64, from, to time.Time, includeReversed bool) ([]Movement, error)
	ListByBatch(ctx context.Context, batchCode string, includeReversed bool) ([]Movement, error)
	ListBySerial(ctx context.Context, serialCode string, includeReversed bool) ([]Movement, error)
	ListByTransaction(ctx context.Context, kind TransactionKind, headerID int64, includeReversed bool) ([]Movement, error)
	ListProducts(ctx context.Context) ([]ProductRef, error)
}

// TxRepository exposes the write operations available inside one
// transaction. Inserting and reversing is all there is; nothing can
// update or physically delete a persisted movement.
type TxRepository interface {
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	ReverseByTransaction(ctx context.Context, kind TransactionKind, headerID int64, at time.Time, by, reason string) (int64, error)
}

// LineSource supplies the line items of an external transaction. The
// ledger only ever reads from it.
type LineSource interface {
	Lines(ctx context.Context, kind TransactionKind, headerID int64) ([]TransactionLine, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReportInvalidator drops derived report caches. Movements can carry
// past occurred_at values and reversals rewrite history, so any write
// can change what an already built report would show.
type ReportInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Service is the aggregate root of the movement ledger. All writes go
// through it, and none of its operations can change a persisted row
// beyond the single reversal transition.
type Service struct {
	repo    RepositoryPort
	lines   LineSource
	audit   AuditPort
	reports ReportInvalidator
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, lines LineSource, audit AuditPort) *Service {
	return &Service{repo: repo, lines: lines, audit: audit, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithReportInvalidator wires the cache that must be dropped after writes.
func (s *Service) WithReportInvalidator(reports ReportInvalidator) {
	s.reports = reports
}

func (s *Service) invalidateReports(ctx context.Context) {
	if s.reports != nil {
		_ = s.reports.Invalidate(ctx)
	}
}

// CreateMovement validates and persists one movement. Nothing is
// written when validation fails.
func (s *Service) CreateMovement(ctx context.Context, input CreateMovementInput) (Movement, error) {
	if err := input.Validate(); err != nil {
		return Movement{}, err
	}
	now := s.now().UTC()
	movement := Movement{
		ProductID:         input.ProductID,
		ProductSKU:        input.ProductSKU,
		ProductName:       input.ProductName,
		MovementType:      input.MovementType,
		Direction:         input.Direction,
		Quantity:          input.Quantity,
		Mass:              input.Mass,
		UnitValue:         input.UnitValue,
		BatchCode:         input.BatchCode,
		SerialCode:        input.SerialCode,
		Kind:              input.Kind,
		TransactionID:     input.TransactionID,
		TransactionLineID: input.TransactionLineID,
		Reason:            strings.TrimSpace(input.Reason),
		OccurredAt:        input.OccurredAt,
		CreatedAt:         now,
		CreatedBy:         input.Actor,
		Location:          input.Location,
	}
	if movement.MovementType == "" && input.Kind != "" {
		movement.MovementType = MovementTypeFor(input.Kind)
	}
	if movement.MovementType == "" {
		movement.MovementType = "Manual"
	}
	if movement.OccurredAt.IsZero() {
		movement.OccurredAt = now
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.invalidateReports(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   "ledger:create",
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", movement.ID),
			Meta: map[string]any{
				"product_id": movement.ProductID,
				"direction":  movement.Direction,
				"quantity":   movement.Quantity.String(),
				"reason":     movement.Reason,
			},
		})
	}
	return movement, nil
}

// GenerateMovements writes one movement per line item of the given
// transaction. Kinds that never affect stock produce zero movements and
// zero reads. The whole write is one transaction, so a failing line
// leaves nothing behind.
func (s *Service) GenerateMovements(ctx context.Context, kind TransactionKind, headerID int64, actor string) (int, error) {
	profile, ok := kindProfiles[kind]
	if !ok {
		return 0, fmt.Errorf("ledger: unknown transaction kind %q", kind)
	}
	if headerID <= 0 {
		return 0, ErrInvalidTransaction
	}
	if !profile.stock {
		return 0, nil
	}
	lines, err := s.lines.Lines(ctx, kind, headerID)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}
	now := s.now().UTC()
	movements := make([]Movement, 0, len(lines))
	for _, line := range lines {
		if line.ProductID <= 0 {
			return 0, fmt.Errorf("%w (transaction %s %d line %d)", ErrInvalidProduct, kind, headerID, line.LineID)
		}
		if !line.Quantity.IsPositive() {
			return 0, fmt.Errorf("%w (transaction %s %d line %d)", ErrInvalidQuantity, kind, headerID, line.LineID)
		}
		occurred := line.OccurredAt
		if occurred.IsZero() {
			occurred = now
		}
		movements = append(movements, Movement{
			ProductID:         line.ProductID,
			ProductSKU:        line.ProductSKU,
			ProductName:       line.ProductName,
			MovementType:      profile.label,
			Direction:         profile.direction,
			Quantity:          line.Quantity,
			Mass:              line.Mass,
			UnitValue:         line.UnitValue,
			BatchCode:         line.BatchCode,
			SerialCode:        line.SerialCode,
			Kind:              kind,
			TransactionID:     headerID,
			TransactionLineID: line.LineID,
			Reason:            fmt.Sprintf("%s #%d", profile.label, headerID),
			OccurredAt:        occurred,
			CreatedAt:         now,
			CreatedBy:         actor,
			Location:          line.Location,
		})
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, movement := range movements {
			if _, err := tx.InsertMovement(ctx, movement); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.invalidateReports(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "ledger:generate",
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%s:%d", kind, headerID),
			Meta: map[string]any{
				"kind":      kind,
				"header_id": headerID,
				"count":     len(movements),
			},
		})
	}
	return len(movements), nil
}

// ReverseMovements soft deletes every active movement of the given
// transaction, appending the reversal reason to each row. It never
// writes a compensating movement; callers that need stock to flow back
// create a fresh movement through CreateMovement. Reversing an unknown
// or already reversed transaction reports zero, not an error.
func (s *Service) ReverseMovements(ctx context.Context, kind TransactionKind, headerID int64, reason, actor string) (int, error) {
	if _, ok := kindProfiles[kind]; !ok {
		return 0, fmt.Errorf("ledger: unknown transaction kind %q", kind)
	}
	if headerID <= 0 {
		return 0, ErrInvalidTransaction
	}
	if strings.TrimSpace(reason) == "" {
		return 0, ErrEmptyReason
	}
	reason = strings.TrimSpace(reason)
	now := s.now().UTC()
	var count int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.ReverseByTransaction(ctx, kind, headerID, now, actor, reason)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.invalidateReports(ctx)
	}
	if s.audit != nil && count > 0 {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "ledger:reverse",
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%s:%d", kind, headerID),
			Meta: map[string]any{
				"kind":      kind,
				"header_id": headerID,
				"count":     count,
				"reason":    reason,
			},
		})
	}
	return int(count), nil
}

// CalculateSOH returns stock on hand for a product: the sum of inbound
// minus outbound quantities over active movements, optionally limited
// to movements that occurred at or before asOf. No movements means
// zero, not an error.
func (s *Service) CalculateSOH(ctx context.Context, productID int64, asOf *time.Time) (decimal.Decimal, error) {
	if productID <= 0 {
		return decimal.Zero, ErrInvalidProduct
	}
	return s.repo.SumByProduct(ctx, productID, asOf)
}

// CalculateBatchSOH returns stock on hand for a product narrowed to one
// batch code.
func (s *Service) CalculateBatchSOH(ctx context.Context, productID int64, batchCode string) (decimal.Decimal, error) {
	if productID <= 0 {
		return decimal.Zero, ErrInvalidProduct
	}
	if strings.TrimSpace(batchCode) == "" {
		return decimal.Zero, fmt.Errorf("ledger: batch code must not be empty")
	}
	return s.repo.SumByProductBatch(ctx, productID, batchCode)
}

// CalculateSOHBatch returns stock on hand for many products at once.
// Products without movements are absent from the result; an empty id
// list yields an empty map without touching the store.
func (s *Service) CalculateSOHBatch(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error) {
	if len(productIDs) == 0 {
		return map[int64]decimal.Decimal{}, nil
	}
	for _, id := range productIDs {
		if id <= 0 {
			return nil, ErrInvalidProduct
		}
	}
	return s.repo.SumByProducts(ctx, productIDs)
}

// GetMovementHistory lists a product's movements inside the given time
// range. Reversed rows only show up with includeReversed.
func (s *Service) GetMovementHistory(ctx context.Context, productID int64, from, to time.Time, includeReversed bool) ([]Movement, error) {
	if productID <= 0 {
		return nil, ErrInvalidProduct
	}
	return s.repo.ListByProduct(ctx, productID, from, to, includeReversed)
}

// GetMovementsByBatch lists movements carrying the batch code.
func (s *Service) GetMovementsByBatch(ctx context.Context, batchCode string, includeReversed bool) ([]Movement, error) {
	if strings.TrimSpace(batchCode) == "" {
		return nil, fmt.Errorf("ledger: batch code must not be empty")
	}
	return s.repo.ListByBatch(ctx, batchCode, includeReversed)
}

// GetMovementsBySerial lists movements carrying the serial code.
func (s *Service) GetMovementsBySerial(ctx context.Context, serialCode string, includeReversed bool) ([]Movement, error) {
	if strings.TrimSpace(serialCode) == "" {
		return nil, fmt.Errorf("ledger: serial code must not be empty")
	}
	return s.repo.ListBySerial(ctx, serialCode, includeReversed)
}

// GetMovementsByTransaction lists movements created from the given
// transaction header.
func (s *Service) GetMovementsByTransaction(ctx context.Context, kind TransactionKind, headerID int64, includeReversed bool) ([]Movement, error) {
	if _, ok := kindProfiles[kind]; !ok {
		return nil, fmt.Errorf("ledger: unknown transaction kind %q", kind)
	}
	if headerID <= 0 {
		return nil, ErrInvalidTransaction
	}
	return s.repo.ListByTransaction(ctx, kind, headerID, includeReversed)
}

// ListProducts returns every product that has at least one movement,
// carrying the catalogue fields from its latest row. Reporting uses it
// to fan out SOH snapshots.
func (s *Service) ListProducts(ctx context.Context) ([]ProductRef, error) {
	return s.repo.ListProducts(ctx)
}
