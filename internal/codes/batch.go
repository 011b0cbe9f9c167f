package codes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cultiva-erp/cultiva-erp/internal/sequence"
)

// BatchVariant discriminates the two supported batch encodings. The
// widths differ, so the variant is always recoverable from the code
// itself.
type BatchVariant string

const (
	// BatchVariantDate is the 16 character site+category+date+sequence form.
	BatchVariantDate BatchVariant = "DATE"
	// BatchVariantWeek is the 12 character site+category+isoweek+sequence form.
	BatchVariantWeek BatchVariant = "WEEK"
)

const (
	batchDateLength = 16
	batchWeekLength = 12

	batchSequenceCeiling = 9999
)

// Batch holds the decoded fields of a batch identifier.
type Batch struct {
	Variant  BatchVariant
	Site     int
	Category Category
	// Date is set for the date variant, zero for the week variant.
	Date time.Time
	// ISOYear and ISOWeek are set for the week variant only.
	ISOYear  int
	ISOWeek  int
	Sequence int64
}

// Code re-encodes the batch into its canonical string. Decoding a code
// and re-encoding the result yields the identical string.
func (b Batch) Code() string {
	if b.Variant == BatchVariantWeek {
		return fmt.Sprintf("%02d%s%02d%02d%04d", b.Site, b.Category, b.ISOYear%100, b.ISOWeek, b.Sequence)
	}
	return fmt.Sprintf("%02d%s%s%04d", b.Site, b.Category, b.Date.Format("20060102"), b.Sequence)
}

// BatchCodec mints batch identifiers. Sequences come from the counter
// store scoped per (site, category, time bucket), so codes never
// collide across concurrent callers.
type BatchCodec struct {
	seq   sequence.Store
	epoch int
}

// NewBatchCodec constructs BatchCodec. epochYear is the oldest year
// Validate accepts.
func NewBatchCodec(seq sequence.Store, epochYear int) *BatchCodec {
	return &BatchCodec{seq: seq, epoch: epochYear}
}

// Generate mints a date-based batch code for the given site, category
// and calendar day.
func (c *BatchCodec) Generate(ctx context.Context, site int, category Category, bucket time.Time, actor string) (string, error) {
	if site < 1 || site > 99 {
		return "", ErrInvalidSite
	}
	if !category.Valid() {
		return "", ErrInvalidCategory
	}
	if bucket.IsZero() {
		return "", errors.New("codes: time bucket required")
	}
	day := bucket.Format("20060102")
	key := fmt.Sprintf("batch:%02d:%s:%s", site, category, day)
	seq, err := c.seq.NextValue(ctx, key, 1, batchSequenceCeiling, actor)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d%s%s%04d", site, category, day, seq), nil
}

// GenerateWeekly mints a week-based batch code. The bucket date is
// truncated to its ISO week.
func (c *BatchCodec) GenerateWeekly(ctx context.Context, site int, category Category, bucket time.Time, actor string) (string, error) {
	if site < 1 || site > 99 {
		return "", ErrInvalidSite
	}
	if !category.Valid() {
		return "", ErrInvalidCategory
	}
	if bucket.IsZero() {
		return "", errors.New("codes: time bucket required")
	}
	isoYear, isoWeek := bucket.ISOWeek()
	key := fmt.Sprintf("batchw:%02d:%s:%04d%02d", site, category, isoYear, isoWeek)
	seq, err := c.seq.NextValue(ctx, key, 1, batchSequenceCeiling, actor)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d%s%02d%02d%04d", site, category, isoYear%100, isoWeek, seq), nil
}

// Validate reports whether code parses as either batch variant with a
// year at or after the configured epoch.
func (c *BatchCodec) Validate(code string) bool {
	batch, err := ParseBatch(code)
	if err != nil {
		return false
	}
	year := batch.ISOYear
	if batch.Variant == BatchVariantDate {
		year = batch.Date.Year()
	}
	return year >= c.epoch
}

// ParseBatch decodes a batch identifier, either variant, discriminated
// by length. Malformed input returns ErrInvalidFormat, never partial
// fields. Week-variant years are read in the 2000-2099 window.
func ParseBatch(code string) (Batch, error) {
	switch len(code) {
	case batchDateLength:
		return parseDateBatch(code)
	case batchWeekLength:
		return parseWeekBatch(code)
	default:
		return Batch{}, fmt.Errorf("%w: batch code must be %d or %d characters", ErrInvalidFormat, batchWeekLength, batchDateLength)
	}
}

func parseDateBatch(code string) (Batch, error) {
	if !isDigits(code) {
		return Batch{}, fmt.Errorf("%w: batch code must be numeric", ErrInvalidFormat)
	}
	site, _ := strconv.Atoi(code[0:2])
	if site < 1 {
		return Batch{}, fmt.Errorf("%w: site 00 is not assignable", ErrInvalidFormat)
	}
	category := Category(code[2:4])
	if !category.Valid() {
		return Batch{}, fmt.Errorf("%w: unknown category code %s", ErrInvalidFormat, code[2:4])
	}
	date, err := time.Parse("20060102", code[4:12])
	if err != nil {
		return Batch{}, fmt.Errorf("%w: %s is not a calendar date", ErrInvalidFormat, code[4:12])
	}
	seq, _ := strconv.Atoi(code[12:16])
	if seq < 1 {
		return Batch{}, fmt.Errorf("%w: sequence must be positive", ErrInvalidFormat)
	}
	return Batch{
		Variant:  BatchVariantDate,
		Site:     site,
		Category: category,
		Date:     date,
		Sequence: int64(seq),
	}, nil
}

func parseWeekBatch(code string) (Batch, error) {
	if !isDigits(code) {
		return Batch{}, fmt.Errorf("%w: batch code must be numeric", ErrInvalidFormat)
	}
	site, _ := strconv.Atoi(code[0:2])
	if site < 1 {
		return Batch{}, fmt.Errorf("%w: site 00 is not assignable", ErrInvalidFormat)
	}
	category := Category(code[2:4])
	if !category.Valid() {
		return Batch{}, fmt.Errorf("%w: unknown category code %s", ErrInvalidFormat, code[2:4])
	}
	year, _ := strconv.Atoi(code[4:6])
	week, _ := strconv.Atoi(code[6:8])
	if week < 1 || week > 53 {
		return Batch{}, fmt.Errorf("%w: week %02d out of range", ErrInvalidFormat, week)
	}
	seq, _ := strconv.Atoi(code[8:12])
	if seq < 1 {
		return Batch{}, fmt.Errorf("%w: sequence must be positive", ErrInvalidFormat)
	}
	return Batch{
		Variant:  BatchVariantWeek,
		Site:     site,
		Category: category,
		ISOYear:  2000 + year,
		ISOWeek:  week,
		Sequence: int64(seq),
	}, nil
}
