package codes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cultiva-erp/cultiva-erp/internal/sequence"
)

const (
	transactionNumberLength  = 13
	transactionNumberCeiling = 99999
)

// TransactionNumber holds the decoded fields of a 13 character
// transaction number (the short serial form): site, day and a per-site
// per-day sequence.
type TransactionNumber struct {
	Site     int
	Date     time.Time
	Sequence int64
}

// Code re-encodes the transaction number into its canonical string.
func (n TransactionNumber) Code() string {
	return fmt.Sprintf("%02d%s%05d", n.Site, n.Date.Format("060102"), n.Sequence)
}

// TransactionNumberCodec mints per-site per-day transaction numbers for
// receipts and till slips.
type TransactionNumberCodec struct {
	seq sequence.Store
}

// NewTransactionNumberCodec constructs TransactionNumberCodec.
func NewTransactionNumberCodec(seq sequence.Store) *TransactionNumberCodec {
	return &TransactionNumberCodec{seq: seq}
}

// Generate mints the next transaction number for the site and day.
func (c *TransactionNumberCodec) Generate(ctx context.Context, site int, day time.Time, actor string) (string, error) {
	if site < 1 || site > 99 {
		return "", ErrInvalidSite
	}
	if day.IsZero() {
		return "", errors.New("codes: day required")
	}
	bucket := day.Format("060102")
	key := fmt.Sprintf("txn:%02d:%s", site, bucket)
	seq, err := c.seq.NextValue(ctx, key, 1, transactionNumberCeiling, actor)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d%s%05d", site, bucket, seq), nil
}

// Validate reports whether code is a well formed transaction number.
func (c *TransactionNumberCodec) Validate(code string) bool {
	_, err := ParseTransactionNumber(code)
	return err == nil
}

// ParseTransactionNumber decodes a transaction number. Years are read
// in the 2000-2099 window.
func ParseTransactionNumber(code string) (TransactionNumber, error) {
	if len(code) != transactionNumberLength {
		return TransactionNumber{}, fmt.Errorf("%w: transaction number must be %d characters", ErrInvalidFormat, transactionNumberLength)
	}
	if !isDigits(code) {
		return TransactionNumber{}, fmt.Errorf("%w: transaction number must be numeric", ErrInvalidFormat)
	}
	site, _ := strconv.Atoi(code[0:2])
	if site < 1 {
		return TransactionNumber{}, fmt.Errorf("%w: site 00 is not assignable", ErrInvalidFormat)
	}
	// time.Parse with a two-digit year would put 69-99 in the 1900s.
	date, err := time.Parse("20060102", "20"+code[2:8])
	if err != nil {
		return TransactionNumber{}, fmt.Errorf("%w: %s is not a calendar date", ErrInvalidFormat, code[2:8])
	}
	seq, _ := strconv.Atoi(code[8:13])
	if seq < 1 {
		return TransactionNumber{}, fmt.Errorf("%w: sequence must be positive", ErrInvalidFormat)
	}
	return TransactionNumber{Site: site, Date: date, Sequence: int64(seq)}, nil
}
