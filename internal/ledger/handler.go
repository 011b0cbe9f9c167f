package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/cultiva-erp/cultiva-erp/internal/platform/httpx"
	"github.com/cultiva-erp/cultiva-erp/internal/shared"
)

// ReplayGuard deduplicates mutating requests that carry an
// Idempotency-Key header. A replayed key surfaces as
// shared.ErrIdempotencyConflict.
type ReplayGuard interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key string) error
}

// Handler wires HTTP endpoints for the movement ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	replays   ReplayGuard
	validator *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, replays ReplayGuard) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		replays:   replays,
		validator: validator.New(),
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleCreateMovement)
	r.Post("/soh", h.handleBatchSOH)
	r.Get("/products/{productID}/soh", h.handleProductSOH)
	r.Get("/products/{productID}/movements", h.handleProductMovements)
	r.Get("/batches/{code}/movements", h.handleBatchMovements)
	r.Get("/serials/{code}/movements", h.handleSerialMovements)
	r.Route("/transactions/{kind}/{transactionID}", func(r chi.Router) {
		r.Post("/movements", h.handleGenerateMovements)
		r.Post("/reversal", h.handleReverseMovements)
		r.Get("/movements", h.handleTransactionMovements)
	})
}

type createMovementRequest struct {
	ProductID         int64            `json:"product_id" validate:"required,gt=0"`
	ProductSKU        string           `json:"product_sku"`
	ProductName       string           `json:"product_name"`
	MovementType      string           `json:"movement_type"`
	Direction         string           `json:"direction" validate:"required,oneof=IN OUT"`
	Quantity          decimal.Decimal  `json:"quantity"`
	Mass              *decimal.Decimal `json:"mass"`
	UnitValue         *decimal.Decimal `json:"unit_value"`
	BatchCode         string           `json:"batch_code"`
	SerialCode        string           `json:"serial_code"`
	TransactionKind   string           `json:"transaction_kind"`
	TransactionID     int64            `json:"transaction_id"`
	TransactionLineID int64            `json:"transaction_line_id"`
	Reason            string           `json:"reason" validate:"required"`
	OccurredAt        *time.Time       `json:"occurred_at"`
	Location          string           `json:"location"`
	Actor             string           `json:"actor" validate:"required"`
}

type generateMovementsRequest struct {
	Actor string `json:"actor" validate:"required"`
}

type reverseMovementsRequest struct {
	Reason string `json:"reason" validate:"required"`
	Actor  string `json:"actor" validate:"required"`
}

type batchSOHRequest struct {
	ProductIDs []int64 `json:"product_ids" validate:"required,min=1,dive,gt=0"`
}

type movementResponse struct {
	ID                int64            `json:"id"`
	ProductID         int64            `json:"product_id"`
	ProductSKU        string           `json:"product_sku,omitempty"`
	ProductName       string           `json:"product_name,omitempty"`
	MovementType      string           `json:"movement_type"`
	Direction         string           `json:"direction"`
	Quantity          decimal.Decimal  `json:"quantity"`
	Mass              *decimal.Decimal `json:"mass,omitempty"`
	UnitValue         *decimal.Decimal `json:"unit_value,omitempty"`
	BatchCode         string           `json:"batch_code,omitempty"`
	SerialCode        string           `json:"serial_code,omitempty"`
	TransactionKind   string           `json:"transaction_kind,omitempty"`
	TransactionID     int64            `json:"transaction_id,omitempty"`
	TransactionLineID int64            `json:"transaction_line_id,omitempty"`
	Reason            string           `json:"reason"`
	OccurredAt        time.Time        `json:"occurred_at"`
	CreatedAt         time.Time        `json:"created_at"`
	CreatedBy         string           `json:"created_by,omitempty"`
	Location          string           `json:"location,omitempty"`
	Reversed          bool             `json:"reversed"`
	ReversedAt        *time.Time       `json:"reversed_at,omitempty"`
	ReversedBy        string           `json:"reversed_by,omitempty"`
	ReversalReason    string           `json:"reversal_reason,omitempty"`
}

type sohResponse struct {
	ProductID int64           `json:"product_id"`
	BatchCode string          `json:"batch_code,omitempty"`
	AsOf      *time.Time      `json:"as_of,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type sohItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

func (h *Handler) handleCreateMovement(w http.ResponseWriter, r *http.Request) {
	var req createMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	input := CreateMovementInput{
		ProductID:         req.ProductID,
		ProductSKU:        req.ProductSKU,
		ProductName:       req.ProductName,
		MovementType:      req.MovementType,
		Direction:         Direction(req.Direction),
		Quantity:          req.Quantity,
		Mass:              nullDecimal(req.Mass),
		UnitValue:         nullDecimal(req.UnitValue),
		BatchCode:         req.BatchCode,
		SerialCode:        req.SerialCode,
		TransactionID:     req.TransactionID,
		TransactionLineID: req.TransactionLineID,
		Reason:            req.Reason,
		Location:          req.Location,
		Actor:             req.Actor,
	}
	if req.TransactionKind != "" {
		kind, err := ParseTransactionKind(req.TransactionKind)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Movement", err.Error())
			return
		}
		input.Kind = kind
	}
	if req.OccurredAt != nil {
		input.OccurredAt = *req.OccurredAt
	}
	key, ok := h.claimIdempotency(w, r, "ledger:movements")
	if !ok {
		return
	}
	movement, err := h.service.CreateMovement(r.Context(), input)
	if err != nil {
		h.releaseIdempotency(r, key)
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(movement))
}

func (h *Handler) handleGenerateMovements(w http.ResponseWriter, r *http.Request) {
	kind, headerID, ok := h.transactionParams(w, r)
	if !ok {
		return
	}
	var req generateMovementsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	key, ok := h.claimIdempotency(w, r, "ledger:generate")
	if !ok {
		return
	}
	count, err := h.service.GenerateMovements(r.Context(), kind, headerID, req.Actor)
	if err != nil {
		h.releaseIdempotency(r, key)
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"movements": count})
}

func (h *Handler) handleReverseMovements(w http.ResponseWriter, r *http.Request) {
	kind, headerID, ok := h.transactionParams(w, r)
	if !ok {
		return
	}
	var req reverseMovementsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	key, ok := h.claimIdempotency(w, r, "ledger:reverse")
	if !ok {
		return
	}
	count, err := h.service.ReverseMovements(r.Context(), kind, headerID, req.Reason, req.Actor)
	if err != nil {
		h.releaseIdempotency(r, key)
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reversed": count})
}

func (h *Handler) handleProductSOH(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Product", "product id must be a positive integer")
		return
	}
	q := r.URL.Query()
	batchCode := strings.TrimSpace(q.Get("batch"))
	var asOf *time.Time
	if raw := q.Get("as_of"); raw != "" {
		t, err := parseTimeParam(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "as_of must be an RFC3339 timestamp or a date")
			return
		}
		asOf = &t
	}
	if batchCode != "" && asOf != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "batch stock on hand does not support as_of")
		return
	}
	var quantity decimal.Decimal
	if batchCode != "" {
		quantity, err = h.service.CalculateBatchSOH(r.Context(), productID, batchCode)
	} else {
		quantity, err = h.service.CalculateSOH(r.Context(), productID, asOf)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sohResponse{ProductID: productID, BatchCode: batchCode, AsOf: asOf, Quantity: quantity})
}

func (h *Handler) handleBatchSOH(w http.ResponseWriter, r *http.Request) {
	var req batchSOHRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	sums, err := h.service.CalculateSOHBatch(r.Context(), req.ProductIDs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]sohItem, 0, len(sums))
	for id, quantity := range sums {
		items = append(items, sohItem{ProductID: id, Quantity: quantity})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleProductMovements(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Product", "product id must be a positive integer")
		return
	}
	q := r.URL.Query()
	var from, to time.Time
	if raw := q.Get("from"); raw != "" {
		from, err = parseTimeParam(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "from must be an RFC3339 timestamp or a date")
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		to, err = parseTimeParam(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "to must be an RFC3339 timestamp or a date")
			return
		}
		if len(raw) == len("2006-01-02") {
			// Date-only bound covers the whole day.
			to = to.Add(24*time.Hour - 1*time.Nanosecond)
		}
	}
	movements, err := h.service.GetMovementHistory(r.Context(), productID, from, to, includeReversed(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondMovements(w, movements)
}

func (h *Handler) handleBatchMovements(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	movements, err := h.service.GetMovementsByBatch(r.Context(), code, includeReversed(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondMovements(w, movements)
}

func (h *Handler) handleSerialMovements(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	movements, err := h.service.GetMovementsBySerial(r.Context(), code, includeReversed(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondMovements(w, movements)
}

func (h *Handler) handleTransactionMovements(w http.ResponseWriter, r *http.Request) {
	kind, headerID, ok := h.transactionParams(w, r)
	if !ok {
		return
	}
	movements, err := h.service.GetMovementsByTransaction(r.Context(), kind, headerID, includeReversed(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondMovements(w, movements)
}

func (h *Handler) respondMovements(w http.ResponseWriter, movements []Movement) {
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, toMovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) transactionParams(w http.ResponseWriter, r *http.Request) (TransactionKind, int64, bool) {
	kind, err := ParseTransactionKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Transaction", err.Error())
		return "", 0, false
	}
	headerID, err := strconv.ParseInt(chi.URLParam(r, "transactionID"), 10, 64)
	if err != nil || headerID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Transaction", "transaction id must be a positive integer")
		return "", 0, false
	}
	return kind, headerID, true
}

// claimIdempotency reserves the request's Idempotency-Key, when one is
// present. A replayed key answers 409 and reports not-ok.
func (h *Handler) claimIdempotency(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" || h.replays == nil {
		return "", true
	}
	if err := h.replays.CheckAndInsert(r.Context(), key, scope); err != nil {
		h.respondError(w, r, err)
		return "", false
	}
	return key, true
}

// releaseIdempotency frees a claimed key after a failed operation, so a
// retry with the same key can go through.
func (h *Handler) releaseIdempotency(r *http.Request, key string) {
	if key == "" || h.replays == nil {
		return
	}
	if err := h.replays.Delete(r.Context(), key); err != nil {
		h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidProduct), errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrEmptyReason), errors.Is(err, ErrInvalidTransaction):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Movement", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		h.logger.Error("ledger request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toMovementResponse(m Movement) movementResponse {
	resp := movementResponse{
		ID:                m.ID,
		ProductID:         m.ProductID,
		ProductSKU:        m.ProductSKU,
		ProductName:       m.ProductName,
		MovementType:      m.MovementType,
		Direction:         string(m.Direction),
		Quantity:          m.Quantity,
		Mass:              decimalPtr(m.Mass),
		UnitValue:         decimalPtr(m.UnitValue),
		BatchCode:         m.BatchCode,
		SerialCode:        m.SerialCode,
		TransactionKind:   string(m.Kind),
		TransactionID:     m.TransactionID,
		TransactionLineID: m.TransactionLineID,
		Reason:            m.Reason,
		OccurredAt:        m.OccurredAt,
		CreatedAt:         m.CreatedAt,
		CreatedBy:         m.CreatedBy,
		Location:          m.Location,
		Reversed:          m.Reversed(),
	}
	if m.Reversal != nil {
		at := m.Reversal.At
		resp.ReversedAt = &at
		resp.ReversedBy = m.Reversal.By
		resp.ReversalReason = m.Reversal.Reason
	}
	return resp
}

func includeReversed(r *http.Request) bool {
	switch r.URL.Query().Get("include_reversed") {
	case "1", "true", "yes":
		return true
	}
	return false
}

func parseTimeParam(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
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

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	value := d.Decimal
	return &value
}
