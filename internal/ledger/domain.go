package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells which way a movement changes stock.
type Direction string

const (
	// DirectionIn increases stock on hand.
	DirectionIn Direction = "IN"
	// DirectionOut decreases stock on hand.
	DirectionOut Direction = "OUT"
)

// Valid reports whether the direction is one of the two known values.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// TransactionKind enumerates the transaction sources feeding the
// ledger. The set is closed; the direction table below must cover every
// kind, which init enforces at startup.
type TransactionKind string

const (
	// KindSale is a point of sale checkout.
	KindSale TransactionKind = "SALE"
	// KindGRV is a goods-received voucher from a supplier.
	KindGRV TransactionKind = "GRV"
	// KindRefund is a customer return.
	KindRefund TransactionKind = "REFUND"
	// KindProductionInput consumes material into a production run.
	KindProductionInput TransactionKind = "PRODUCTION_INPUT"
	// KindProductionOutput yields product from a production run.
	KindProductionOutput TransactionKind = "PRODUCTION_OUTPUT"
	// KindAccountPayment settles an account and never moves stock.
	KindAccountPayment TransactionKind = "ACCOUNT_PAYMENT"
)

// AllTransactionKinds lists every kind the ledger recognises.
var AllTransactionKinds = []TransactionKind{
	KindSale,
	KindGRV,
	KindRefund,
	KindProductionInput,
	KindProductionOutput,
	KindAccountPayment,
}

type kindProfile struct {
	direction Direction
	label     string
	stock     bool
}

var kindProfiles = map[TransactionKind]kindProfile{
	KindSale:             {direction: DirectionOut, label: "Sale", stock: true},
	KindGRV:              {direction: DirectionIn, label: "Goods Received", stock: true},
	KindRefund:           {direction: DirectionIn, label: "Refund", stock: true},
	KindProductionInput:  {direction: DirectionOut, label: "Production Input", stock: true},
	KindProductionOutput: {direction: DirectionIn, label: "Production Output", stock: true},
	KindAccountPayment:   {label: "Account Payment", stock: false},
}

func init() {
	for _, kind := range AllTransactionKinds {
		profile, ok := kindProfiles[kind]
		if !ok {
			panic(fmt.Sprintf("ledger: transaction kind %s has no direction mapping", kind))
		}
		if profile.stock && !profile.direction.Valid() {
			panic(fmt.Sprintf("ledger: stock-affecting kind %s has no direction", kind))
		}
	}
}

// DirectionFor returns the stock direction for kind. ok is false for
// kinds that never move stock.
func DirectionFor(kind TransactionKind) (Direction, bool) {
	profile, found := kindProfiles[kind]
	if !found || !profile.stock {
		return "", false
	}
	return profile.direction, true
}

// MovementTypeFor returns the human readable label for kind.
func MovementTypeFor(kind TransactionKind) string {
	return kindProfiles[kind].label
}

// ParseTransactionKind converts a string into a TransactionKind.
func ParseTransactionKind(s string) (TransactionKind, error) {
	kind := TransactionKind(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := kindProfiles[kind]; !ok {
		return "", fmt.Errorf("ledger: unknown transaction kind %q", s)
	}
	return kind, nil
}

// Reversal records the soft delete of a movement. A movement holding a
// nil Reversal is active; holding one is reversed. Keeping the three
// fields together makes an active-but-has-deletion-metadata state
// unrepresentable.
type Reversal struct {
	At     time.Time
	By     string
	Reason string
}

// Movement is one immutable directional stock fact. Every field except
// Reversal is frozen at insert; the only mutation the store permits is
// setting Reversal once (plus the REVERSED suffix on Reason).
type Movement struct {
	ID                int64
	ProductID         int64
	ProductSKU        string
	ProductName       string
	MovementType      string
	Direction         Direction
	Quantity          decimal.Decimal
	Mass              decimal.NullDecimal
	UnitValue         decimal.NullDecimal
	BatchCode         string
	SerialCode        string
	Kind              TransactionKind
	TransactionID     int64
	TransactionLineID int64
	Reason            string
	OccurredAt        time.Time
	CreatedAt         time.Time
	CreatedBy         string
	Location          string
	Reversal          *Reversal
}

// Reversed reports whether the movement has been soft deleted.
func (m Movement) Reversed() bool {
	return m.Reversal != nil
}

// SignedQuantity returns the quantity with the direction applied.
func (m Movement) SignedQuantity() decimal.Decimal {
	if m.Direction == DirectionOut {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

// CreateMovementInput describes a directly created movement.
type CreateMovementInput struct {
	ProductID         int64
	ProductSKU        string
	ProductName       string
	MovementType      string
	Direction         Direction
	Quantity          decimal.Decimal
	Mass              decimal.NullDecimal
	UnitValue         decimal.NullDecimal
	BatchCode         string
	SerialCode        string
	Kind              TransactionKind
	TransactionID     int64
	TransactionLineID int64
	Reason            string
	OccurredAt        time.Time
	Actor             string
	Location          string
}

// Validate checks the input before anything is written.
func (in CreateMovementInput) Validate() error {
	if in.ProductID <= 0 {
		return ErrInvalidProduct
	}
	if !in.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if strings.TrimSpace(in.Reason) == "" {
		return ErrEmptyReason
	}
	if !in.Direction.Valid() {
		return errors.New("ledger: direction must be IN or OUT")
	}
	if in.Kind != "" {
		if _, ok := kindProfiles[in.Kind]; !ok {
			return fmt.Errorf("ledger: unknown transaction kind %q", in.Kind)
		}
	}
	if in.Mass.Valid && in.Mass.Decimal.IsNegative() {
		return errors.New("ledger: mass must not be negative")
	}
	if in.UnitValue.Valid && in.UnitValue.Decimal.IsNegative() {
		return errors.New("ledger: unit value must not be negative")
	}
	return nil
}

// TransactionLine is one line item supplied by the external transaction
// source. The ledger reads these, never writes them.
type TransactionLine struct {
	LineID      int64
	ProductID   int64
	ProductSKU  string
	ProductName string
	Quantity    decimal.Decimal
	Mass        decimal.NullDecimal
	UnitValue   decimal.NullDecimal
	BatchCode   string
	SerialCode  string
	Location    string
	OccurredAt  time.Time
}

// ProductRef identifies a product the ledger has seen, with the
// catalogue fields of its most recent movement.
type ProductRef struct {
	ID   int64
	SKU  string
	Name string
}

// ErrInvalidProduct indicates a missing or non-positive product reference.
var ErrInvalidProduct = errors.New("ledger: product id must be positive")

// ErrInvalidQuantity indicates a zero or negative quantity.
var ErrInvalidQuantity = errors.New("ledger: quantity must be positive")

// ErrEmptyReason indicates a blank movement reason.
var ErrEmptyReason = errors.New("ledger: reason must not be empty")

// ErrInvalidTransaction indicates a non-positive transaction header id.
var ErrInvalidTransaction = errors.New("ledger: transaction id must be positive")
