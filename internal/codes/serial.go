package codes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cultiva-erp/cultiva-erp/internal/sequence"
)

// SerialForm discriminates the two serial encodings.
type SerialForm string

const (
	// SerialFormLinked is the 16 character category+isoweek+batch+unit form.
	SerialFormLinked SerialForm = "BATCH_LINKED"
	// SerialFormRich is the 31 character checksummed form carrying site,
	// strain, date, weight and pack quantity.
	SerialFormRich SerialForm = "ATTRIBUTE_RICH"
)

const (
	serialLinkedLength = 16
	serialRichLength   = 31

	serialLinkedCeiling = 999999
	serialRichCeiling   = 99999
)

// Serial holds the decoded fields of a serial identifier.
type Serial struct {
	Form     SerialForm
	Category Category
	// Site and Strain are carried by the attribute-rich form only.
	Site   int
	Strain int
	// ISOYear and ISOWeek are set for the batch-linked form.
	ISOYear int
	ISOWeek int
	// Date is set for the attribute-rich form.
	Date            time.Time
	BatchSequence   int64
	UnitSequence    int64
	WeightDecigrams int
	PackQuantity    int
	// ChecksumOK reports the trailing check digit state of the
	// attribute-rich form. The batch-linked form carries no check digit
	// and always reports true. A false value means tampered or mistyped,
	// not malformed; malformed input fails Parse outright.
	ChecksumOK bool
}

// Code re-encodes the serial into its canonical string. The
// attribute-rich form gets a freshly computed check digit.
func (s Serial) Code() string {
	if s.Form == SerialFormLinked {
		return fmt.Sprintf("%s%02d%02d%04d%06d", s.Category, s.ISOYear%100, s.ISOWeek, s.BatchSequence, s.UnitSequence)
	}
	payload := fmt.Sprintf("%02d%03d%s%s%04d%05d%04d%02d",
		s.Site, s.Strain, s.Category, s.Date.Format("20060102"),
		s.BatchSequence, s.UnitSequence, s.WeightDecigrams, s.PackQuantity)
	appended, _ := AppendCheckDigit(payload)
	return appended
}

// RichSerialInput describes an attribute-rich serial mint request.
type RichSerialInput struct {
	ParentBatch     string
	Strain          int
	WeightDecigrams int
	PackQuantity    int
	Actor           string
}

// SerialCodec mints serial identifiers. Unit sequences are scoped per
// parent batch through the counter store, so two callers serialising
// the same batch can never interleave or repeat a unit number.
type SerialCodec struct {
	seq   sequence.Store
	epoch int
}

// NewSerialCodec constructs SerialCodec.
func NewSerialCodec(seq sequence.Store, epochYear int) *SerialCodec {
	return &SerialCodec{seq: seq, epoch: epochYear}
}

// Generate mints one batch-linked serial under a week-based parent
// batch code.
func (c *SerialCodec) Generate(ctx context.Context, parentBatch, actor string) (string, error) {
	serials, err := c.GenerateBulk(ctx, 1, parentBatch, actor)
	if err != nil {
		return "", err
	}
	return serials[0], nil
}

// GenerateBulk mints count batch-linked serials with strictly
// increasing unit sequences reserved in one contiguous block.
func (c *SerialCodec) GenerateBulk(ctx context.Context, count int, parentBatch, actor string) ([]string, error) {
	if count < 1 {
		return nil, errors.New("codes: count must be at least 1")
	}
	parent, err := ParseBatch(parentBatch)
	if err != nil {
		return nil, err
	}
	if parent.Variant != BatchVariantWeek {
		return nil, errors.New("codes: batch-linked serials require a week-based parent batch")
	}
	key := fmt.Sprintf("serial:%s:%04d%02d:%04d", parent.Category, parent.ISOYear, parent.ISOWeek, parent.Sequence)
	first, err := c.seq.NextBlock(ctx, key, 1, serialLinkedCeiling, int64(count), actor)
	if err != nil {
		return nil, err
	}
	serials := make([]string, 0, count)
	for i := 0; i < count; i++ {
		serials = append(serials, fmt.Sprintf("%s%02d%02d%04d%06d",
			parent.Category, parent.ISOYear%100, parent.ISOWeek, parent.Sequence, first+int64(i)))
	}
	return serials, nil
}

// GenerateRich mints one attribute-rich serial under a date-based
// parent batch code.
func (c *SerialCodec) GenerateRich(ctx context.Context, input RichSerialInput) (string, error) {
	serials, err := c.GenerateRichBulk(ctx, 1, input)
	if err != nil {
		return "", err
	}
	return serials[0], nil
}

// GenerateRichBulk mints count attribute-rich serials from one
// contiguous unit sequence block.
func (c *SerialCodec) GenerateRichBulk(ctx context.Context, count int, input RichSerialInput) ([]string, error) {
	if count < 1 {
		return nil, errors.New("codes: count must be at least 1")
	}
	if input.Strain < 0 || input.Strain > 999 {
		return nil, errors.New("codes: strain must be between 0 and 999")
	}
	if input.WeightDecigrams < 0 || input.WeightDecigrams > 9999 {
		return nil, errors.New("codes: weight must be between 0 and 9999 decigrams")
	}
	if input.PackQuantity < 1 || input.PackQuantity > 99 {
		return nil, errors.New("codes: pack quantity must be between 1 and 99")
	}
	parent, err := ParseBatch(input.ParentBatch)
	if err != nil {
		return nil, err
	}
	if parent.Variant != BatchVariantDate {
		return nil, errors.New("codes: attribute-rich serials require a date-based parent batch")
	}
	day := parent.Date.Format("20060102")
	key := fmt.Sprintf("serialr:%02d:%s:%s:%04d", parent.Site, parent.Category, day, parent.Sequence)
	first, err := c.seq.NextBlock(ctx, key, 1, serialRichCeiling, int64(count), input.Actor)
	if err != nil {
		return nil, err
	}
	serials := make([]string, 0, count)
	for i := 0; i < count; i++ {
		payload := fmt.Sprintf("%02d%03d%s%s%04d%05d%04d%02d",
			parent.Site, input.Strain, parent.Category, day,
			parent.Sequence, first+int64(i), input.WeightDecigrams, input.PackQuantity)
		code, err := AppendCheckDigit(payload)
		if err != nil {
			return nil, err
		}
		serials = append(serials, code)
	}
	return serials, nil
}

// Validate reports whether code parses as either serial form, with a
// year at or after the configured epoch and, for the attribute-rich
// form, a correct check digit.
func (c *SerialCodec) Validate(code string) bool {
	serial, err := ParseSerial(code)
	if err != nil {
		return false
	}
	if !serial.ChecksumOK {
		return false
	}
	year := serial.ISOYear
	if serial.Form == SerialFormRich {
		year = serial.Date.Year()
	}
	return year >= c.epoch
}

// ParseSerial decodes a serial identifier, either form, discriminated
// by length. A wrong check digit on a well formed attribute-rich code
// is reported through ChecksumOK, not an error.
func ParseSerial(code string) (Serial, error) {
	switch len(code) {
	case serialLinkedLength:
		return parseLinkedSerial(code)
	case serialRichLength:
		return parseRichSerial(code)
	default:
		return Serial{}, fmt.Errorf("%w: serial code must be %d or %d characters", ErrInvalidFormat, serialLinkedLength, serialRichLength)
	}
}

func parseLinkedSerial(code string) (Serial, error) {
	if !isDigits(code) {
		return Serial{}, fmt.Errorf("%w: serial code must be numeric", ErrInvalidFormat)
	}
	category := Category(code[0:2])
	if !category.Valid() {
		return Serial{}, fmt.Errorf("%w: unknown category code %s", ErrInvalidFormat, code[0:2])
	}
	year, _ := strconv.Atoi(code[2:4])
	week, _ := strconv.Atoi(code[4:6])
	if week < 1 || week > 53 {
		return Serial{}, fmt.Errorf("%w: week %02d out of range", ErrInvalidFormat, week)
	}
	batchSeq, _ := strconv.Atoi(code[6:10])
	if batchSeq < 1 {
		return Serial{}, fmt.Errorf("%w: batch sequence must be positive", ErrInvalidFormat)
	}
	unitSeq, _ := strconv.Atoi(code[10:16])
	if unitSeq < 1 {
		return Serial{}, fmt.Errorf("%w: unit sequence must be positive", ErrInvalidFormat)
	}
	return Serial{
		Form:          SerialFormLinked,
		Category:      category,
		ISOYear:       2000 + year,
		ISOWeek:       week,
		BatchSequence: int64(batchSeq),
		UnitSequence:  int64(unitSeq),
		ChecksumOK:    true,
	}, nil
}

func parseRichSerial(code string) (Serial, error) {
	if !isDigits(code) {
		return Serial{}, fmt.Errorf("%w: serial code must be numeric", ErrInvalidFormat)
	}
	site, _ := strconv.Atoi(code[0:2])
	if site < 1 {
		return Serial{}, fmt.Errorf("%w: site 00 is not assignable", ErrInvalidFormat)
	}
	strain, _ := strconv.Atoi(code[2:5])
	category := Category(code[5:7])
	if !category.Valid() {
		return Serial{}, fmt.Errorf("%w: unknown category code %s", ErrInvalidFormat, code[5:7])
	}
	date, err := time.Parse("20060102", code[7:15])
	if err != nil {
		return Serial{}, fmt.Errorf("%w: %s is not a calendar date", ErrInvalidFormat, code[7:15])
	}
	batchSeq, _ := strconv.Atoi(code[15:19])
	if batchSeq < 1 {
		return Serial{}, fmt.Errorf("%w: batch sequence must be positive", ErrInvalidFormat)
	}
	unitSeq, _ := strconv.Atoi(code[19:24])
	if unitSeq < 1 {
		return Serial{}, fmt.Errorf("%w: unit sequence must be positive", ErrInvalidFormat)
	}
	weight, _ := strconv.Atoi(code[24:28])
	pack, _ := strconv.Atoi(code[28:30])
	if pack < 1 {
		return Serial{}, fmt.Errorf("%w: pack quantity must be positive", ErrInvalidFormat)
	}
	return Serial{
		Form:            SerialFormRich,
		Category:        category,
		Site:            site,
		Strain:          strain,
		Date:            date,
		BatchSequence:   int64(batchSeq),
		UnitSequence:    int64(unitSeq),
		WeightDecigrams: weight,
		PackQuantity:    pack,
		ChecksumOK:      ValidateCheckDigit(code),
	}, nil
}

// DeriveParentBatch re-encodes the batch code a serial was minted
// under, purely from embedded fields, without touching the counter
// store. Batch-linked serials embed no site, so the caller supplies it;
// both arguments cross-check embedded fields where those exist.
func DeriveParentBatch(serial string, site int, category Category) (string, error) {
	decoded, err := ParseSerial(serial)
	if err != nil {
		return "", err
	}
	if category != "" && category != decoded.Category {
		return "", errors.New("codes: serial category mismatch")
	}
	if decoded.Form == SerialFormLinked {
		if site < 1 || site > 99 {
			return "", ErrInvalidSite
		}
		return Batch{
			Variant:  BatchVariantWeek,
			Site:     site,
			Category: decoded.Category,
			ISOYear:  decoded.ISOYear,
			ISOWeek:  decoded.ISOWeek,
			Sequence: decoded.BatchSequence,
		}.Code(), nil
	}
	if site != 0 && site != decoded.Site {
		return "", errors.New("codes: serial site mismatch")
	}
	return Batch{
		Variant:  BatchVariantDate,
		Site:     decoded.Site,
		Category: decoded.Category,
		Date:     decoded.Date,
		Sequence: decoded.BatchSequence,
	}.Code(), nil
}
