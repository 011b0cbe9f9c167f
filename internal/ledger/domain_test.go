package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDirectionForCoversEveryKind(t *testing.T) {
	expected := map[TransactionKind]struct {
		direction Direction
		stock     bool
	}{
		KindSale:             {DirectionOut, true},
		KindGRV:              {DirectionIn, true},
		KindRefund:           {DirectionIn, true},
		KindProductionInput:  {DirectionOut, true},
		KindProductionOutput: {DirectionIn, true},
		KindAccountPayment:   {"", false},
	}
	require.Len(t, expected, len(AllTransactionKinds))
	for _, kind := range AllTransactionKinds {
		want, known := expected[kind]
		require.True(t, known, "kind %s missing from expectation table", kind)
		direction, moves := DirectionFor(kind)
		require.Equal(t, want.stock, moves, "kind %s", kind)
		require.Equal(t, want.direction, direction, "kind %s", kind)
	}
}

func TestParseTransactionKind(t *testing.T) {
	kind, err := ParseTransactionKind(" sale ")
	require.NoError(t, err)
	require.Equal(t, KindSale, kind)

	kind, err = ParseTransactionKind("production_output")
	require.NoError(t, err)
	require.Equal(t, KindProductionOutput, kind)

	_, err = ParseTransactionKind("TELEPORT")
	require.Error(t, err)
}

func TestSignedQuantity(t *testing.T) {
	in := Movement{Direction: DirectionIn, Quantity: decimal.NewFromInt(7)}
	out := Movement{Direction: DirectionOut, Quantity: decimal.NewFromInt(7)}
	require.True(t, in.SignedQuantity().Equal(decimal.NewFromInt(7)))
	require.True(t, out.SignedQuantity().Equal(decimal.NewFromInt(-7)))
}

func TestMovementReversed(t *testing.T) {
	m := Movement{}
	require.False(t, m.Reversed())
	m.Reversal = &Reversal{At: time.Now(), By: "auditor", Reason: "recount"}
	require.True(t, m.Reversed())
}

func TestCreateMovementInputValidate(t *testing.T) {
	valid := CreateMovementInput{
		ProductID: 1,
		Direction: DirectionIn,
		Quantity:  decimal.NewFromInt(5),
		Reason:    "stock take",
		Actor:     "clerk",
	}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.ProductID = 0
	require.ErrorIs(t, bad.Validate(), ErrInvalidProduct)

	bad = valid
	bad.Quantity = decimal.Zero
	require.ErrorIs(t, bad.Validate(), ErrInvalidQuantity)

	bad = valid
	bad.Quantity = decimal.NewFromInt(-3)
	require.ErrorIs(t, bad.Validate(), ErrInvalidQuantity)

	bad = valid
	bad.Reason = "   "
	require.ErrorIs(t, bad.Validate(), ErrEmptyReason)

	bad = valid
	bad.Direction = "SIDEWAYS"
	require.Error(t, bad.Validate())

	bad = valid
	bad.Kind = "TELEPORT"
	require.Error(t, bad.Validate())

	bad = valid
	bad.Mass = decimal.NewNullDecimal(decimal.NewFromInt(-1))
	require.Error(t, bad.Validate())
}

func TestSplitReversalReason(t *testing.T) {
	original, note := splitReversalReason("Sale #9 REVERSED: till error")
	require.Equal(t, "Sale #9", original)
	require.Equal(t, "till error", note)

	original, note = splitReversalReason("plain reason")
	require.Equal(t, "plain reason", original)
	require.Equal(t, "", note)
}
