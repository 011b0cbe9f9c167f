package codes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cultiva-erp/cultiva-erp/internal/platform/httpx"
	"github.com/cultiva-erp/cultiva-erp/internal/sequence"
	"github.com/cultiva-erp/cultiva-erp/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Handler wires HTTP endpoints for identifier minting and validation.
type Handler struct {
	logger    *slog.Logger
	batches   *BatchCodec
	serials   *SerialCodec
	txnumbers *TransactionNumberCodec
	audit     AuditPort
	validator *validator.Validate
	now       func() time.Time
}

// NewHandler constructs the codes handler.
func NewHandler(logger *slog.Logger, batches *BatchCodec, serials *SerialCodec, txnumbers *TransactionNumberCodec, audit AuditPort) *Handler {
	return &Handler{
		logger:    logger,
		batches:   batches,
		serials:   serials,
		txnumbers: txnumbers,
		audit:     audit,
		validator: validator.New(),
		now:       time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (h *Handler) WithNow(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// MountRoutes registers code minting and validation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.handleMintBatch)
	r.Post("/serials", h.handleMintSerials)
	r.Post("/transaction-numbers", h.handleMintTransactionNumber)
	r.Post("/validation", h.handleValidate)
}

const (
	familyBatch             = "batch"
	familySerial            = "serial"
	familyTransactionNumber = "transaction_number"
)

type mintBatchRequest struct {
	Site     int    `json:"site" validate:"required,gte=1,lte=99"`
	Category string `json:"category" validate:"required,len=2"`
	Weekly   bool   `json:"weekly"`
	Date     string `json:"date"`
	Actor    string `json:"actor" validate:"required"`
}

type mintSerialsRequest struct {
	ParentBatch     string `json:"parent_batch" validate:"required"`
	Count           int    `json:"count" validate:"gte=0,lte=1000"`
	Strain          int    `json:"strain" validate:"gte=0,lte=999"`
	WeightDecigrams int    `json:"weight_decigrams" validate:"gte=0,lte=9999"`
	PackQuantity    int    `json:"pack_quantity" validate:"gte=0,lte=99"`
	Actor           string `json:"actor" validate:"required"`
}

type mintTransactionNumberRequest struct {
	Site  int    `json:"site" validate:"required,gte=1,lte=99"`
	Date  string `json:"date"`
	Actor string `json:"actor" validate:"required"`
}

type validateRequest struct {
	Code   string `json:"code" validate:"required"`
	Family string `json:"family" validate:"omitempty,oneof=batch serial transaction_number"`
}

type mintResponse struct {
	Code  string   `json:"code,omitempty"`
	Codes []string `json:"codes,omitempty"`
}

type parsedBatch struct {
	Variant       string `json:"variant"`
	Site          int    `json:"site"`
	Category      string `json:"category"`
	CategoryLabel string `json:"category_label"`
	Date          string `json:"date,omitempty"`
	ISOYear       int    `json:"iso_year,omitempty"`
	ISOWeek       int    `json:"iso_week,omitempty"`
	Sequence      int64  `json:"sequence"`
}

type parsedSerial struct {
	Form            string `json:"form"`
	Category        string `json:"category"`
	CategoryLabel   string `json:"category_label"`
	Site            int    `json:"site,omitempty"`
	Strain          int    `json:"strain,omitempty"`
	ISOYear         int    `json:"iso_year,omitempty"`
	ISOWeek         int    `json:"iso_week,omitempty"`
	Date            string `json:"date,omitempty"`
	BatchSequence   int64  `json:"batch_sequence"`
	UnitSequence    int64  `json:"unit_sequence"`
	WeightDecigrams int    `json:"weight_decigrams,omitempty"`
	PackQuantity    int    `json:"pack_quantity,omitempty"`
	ParentBatch     string `json:"parent_batch,omitempty"`
}

type parsedTransactionNumber struct {
	Site     int    `json:"site"`
	Date     string `json:"date"`
	Sequence int64  `json:"sequence"`
}

type validationResponse struct {
	Valid             bool                     `json:"valid"`
	Family            string                   `json:"family,omitempty"`
	Detail            string                   `json:"detail,omitempty"`
	ChecksumOK        *bool                    `json:"checksum_ok,omitempty"`
	Batch             *parsedBatch             `json:"batch,omitempty"`
	Serial            *parsedSerial            `json:"serial,omitempty"`
	TransactionNumber *parsedTransactionNumber `json:"transaction_number,omitempty"`
}

func (h *Handler) handleMintBatch(w http.ResponseWriter, r *http.Request) {
	var req mintBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	category, err := ParseCategory(req.Category)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	bucket := h.now().UTC()
	if req.Date != "" {
		bucket, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "date must be formatted YYYY-MM-DD")
			return
		}
	}
	var code string
	if req.Weekly {
		code, err = h.batches.GenerateWeekly(r.Context(), req.Site, category, bucket, req.Actor)
	} else {
		code, err = h.batches.Generate(r.Context(), req.Site, category, bucket, req.Actor)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.record(r.Context(), req.Actor, "codes:mint_batch", "batch_code", code, map[string]any{
		"site":     req.Site,
		"category": string(category),
		"weekly":   req.Weekly,
	})
	httpx.JSON(w, http.StatusCreated, mintResponse{Code: code})
}

func (h *Handler) handleMintSerials(w http.ResponseWriter, r *http.Request) {
	var req mintSerialsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	count := req.Count
	if count == 0 {
		count = 1
	}
	parent, err := ParseBatch(req.ParentBatch)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var (
		serials []string
		form    SerialForm
	)
	// The parent batch variant selects the serial form: week-based
	// parents carry batch-linked serials, date-based parents carry the
	// attribute-rich checksummed form.
	switch parent.Variant {
	case BatchVariantWeek:
		form = SerialFormLinked
		serials, err = h.serials.GenerateBulk(r.Context(), count, req.ParentBatch, req.Actor)
	default:
		form = SerialFormRich
		pack := req.PackQuantity
		if pack == 0 {
			pack = 1
		}
		serials, err = h.serials.GenerateRichBulk(r.Context(), count, RichSerialInput{
			ParentBatch:     req.ParentBatch,
			Strain:          req.Strain,
			WeightDecigrams: req.WeightDecigrams,
			PackQuantity:    pack,
			Actor:           req.Actor,
		})
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.record(r.Context(), req.Actor, "codes:mint_serial", "serial_code", req.ParentBatch, map[string]any{
		"form":  string(form),
		"count": count,
		"first": serials[0],
		"last":  serials[len(serials)-1],
	})
	if count == 1 {
		httpx.JSON(w, http.StatusCreated, mintResponse{Code: serials[0]})
		return
	}
	httpx.JSON(w, http.StatusCreated, mintResponse{Codes: serials})
}

func (h *Handler) handleMintTransactionNumber(w http.ResponseWriter, r *http.Request) {
	var req mintTransactionNumberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	day := h.now().UTC()
	if req.Date != "" {
		var err error
		day, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "date must be formatted YYYY-MM-DD")
			return
		}
	}
	code, err := h.txnumbers.Generate(r.Context(), req.Site, day, req.Actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.record(r.Context(), req.Actor, "codes:mint_txn", "transaction_number", code, map[string]any{
		"site": req.Site,
		"day":  day.Format("2006-01-02"),
	})
	httpx.JSON(w, http.StatusCreated, mintResponse{Code: code})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	code := strings.TrimSpace(req.Code)
	httpx.JSON(w, http.StatusOK, h.validateCode(code, req.Family))
}

// validateCode parses code as each candidate family in turn. A code
// that parses nowhere yields valid:false with a detail, never an HTTP
// error; checksum state is a field, not a failure.
func (h *Handler) validateCode(code, family string) validationResponse {
	var firstErr error
	for _, candidate := range familiesFor(code, family) {
		switch candidate {
		case familyBatch:
			batch, err := ParseBatch(code)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			resp := validationResponse{
				Valid:  h.batches.Validate(code),
				Family: familyBatch,
				Batch: &parsedBatch{
					Variant:       string(batch.Variant),
					Site:          batch.Site,
					Category:      string(batch.Category),
					CategoryLabel: batch.Category.Label(),
					ISOYear:       batch.ISOYear,
					ISOWeek:       batch.ISOWeek,
					Sequence:      batch.Sequence,
				},
			}
			if batch.Variant == BatchVariantDate {
				resp.Batch.Date = batch.Date.Format("2006-01-02")
			}
			return resp
		case familySerial:
			serial, err := ParseSerial(code)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			resp := validationResponse{
				Valid:  h.serials.Validate(code),
				Family: familySerial,
				Serial: &parsedSerial{
					Form:          string(serial.Form),
					Category:      string(serial.Category),
					CategoryLabel: serial.Category.Label(),
					Site:          serial.Site,
					Strain:        serial.Strain,
					ISOYear:       serial.ISOYear,
					ISOWeek:       serial.ISOWeek,
					BatchSequence: serial.BatchSequence,
					UnitSequence:  serial.UnitSequence,
				},
			}
			if serial.Form == SerialFormRich {
				ok := serial.ChecksumOK
				resp.ChecksumOK = &ok
				resp.Serial.Date = serial.Date.Format("2006-01-02")
				resp.Serial.WeightDecigrams = serial.WeightDecigrams
				resp.Serial.PackQuantity = serial.PackQuantity
				if parent, err := DeriveParentBatch(code, 0, ""); err == nil {
					resp.Serial.ParentBatch = parent
				}
			}
			return resp
		case familyTransactionNumber:
			number, err := ParseTransactionNumber(code)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			return validationResponse{
				Valid:  true,
				Family: familyTransactionNumber,
				TransactionNumber: &parsedTransactionNumber{
					Site:     number.Site,
					Date:     number.Date.Format("2006-01-02"),
					Sequence: number.Sequence,
				},
			}
		}
	}
	resp := validationResponse{Valid: false}
	if firstErr != nil {
		resp.Detail = firstErr.Error()
	}
	return resp
}

// familiesFor narrows the candidate families by code width, so a
// 16 character code is tried as a batch before a serial.
func familiesFor(code, explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	switch len(code) {
	case batchWeekLength:
		return []string{familyBatch}
	case batchDateLength:
		return []string{familyBatch, familySerial}
	case serialRichLength:
		return []string{familySerial}
	case transactionNumberLength:
		return []string{familyTransactionNumber}
	default:
		return []string{familyBatch, familySerial, familyTransactionNumber}
	}
}

func (h *Handler) record(ctx context.Context, actor, action, entity, entityID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		h.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidSite), errors.Is(err, ErrInvalidCategory),
		errors.Is(err, ErrInvalidFormat), errors.Is(err, ErrInvalidDigits):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Code Request", err.Error())
	case errors.Is(err, sequence.ErrExhausted):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Sequence Exhausted", err.Error())
	default:
		h.logger.Error("codes request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func validationDetail(err error) string {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fields := make([]string, 0, len(fieldErrors))
		for _, fe := range fieldErrors {
			fields = append(fields, fe.Field())
		}
		return "invalid fields: " + strings.Join(fields, ", ")
	}
	return err.Error()
}
