package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cultiva-erp/cultiva-erp/internal/shared"
	_ "github.com/cultiva-erp/cultiva-erp/testing"
)

type stubReplays struct {
	keys map[string]string
}

func newStubReplays() *stubReplays {
	return &stubReplays{keys: map[string]string{}}
}

func (s *stubReplays) CheckAndInsert(_ context.Context, key, scope string) error {
	if _, ok := s.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = scope
	return nil
}

func (s *stubReplays) Delete(_ context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

func newHandlerRouter(svc *Service, replays ReplayGuard) *chi.Mux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	router.Route("/ledger", NewHandler(logger, svc, replays).MountRoutes)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateMovementEndpoint(t *testing.T) {
	svc, _, audit := newTestService(nil)
	router := newHandlerRouter(svc, nil)

	rec := doJSON(t, router, http.MethodPost, "/ledger/movements", map[string]any{
		"product_id":  101,
		"product_sku": "FLW-PK-001",
		"direction":   "IN",
		"quantity":    "50",
		"batch_code":  "0131202506140001",
		"reason":      "Opening balance",
		"actor":       "warehouse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp movementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotZero(t, resp.ID)
	require.Equal(t, int64(101), resp.ProductID)
	require.Equal(t, "IN", resp.Direction)
	require.Equal(t, "50", resp.Quantity.String())
	require.True(t, resp.OccurredAt.Equal(testClock))
	require.False(t, resp.Reversed)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "ledger:create", audit.logs[0].Action)
}

func TestCreateMovementEndpointRejectsBadInput(t *testing.T) {
	svc, repo, _ := newTestService(nil)
	router := newHandlerRouter(svc, nil)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing reason", map[string]any{"product_id": 1, "direction": "IN", "quantity": "5", "actor": "x"}},
		{"missing actor", map[string]any{"product_id": 1, "direction": "IN", "quantity": "5", "reason": "r"}},
		{"bad direction", map[string]any{"product_id": 1, "direction": "SIDEWAYS", "quantity": "5", "reason": "r", "actor": "x"}},
		{"zero quantity", map[string]any{"product_id": 1, "direction": "IN", "quantity": "0", "reason": "r", "actor": "x"}},
		{"unknown kind", map[string]any{"product_id": 1, "direction": "IN", "quantity": "5", "reason": "r", "actor": "x", "transaction_kind": "LOTTERY"}},
	}
	for _, tc := range cases {
		rec := doJSON(t, router, http.MethodPost, "/ledger/movements", tc.body, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
	}

	rec := doJSON(t, router, http.MethodPost, "/ledger/movements", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, "empty body")
	require.Empty(t, repo.movements)
}

func TestCreateMovementIdempotency(t *testing.T) {
	svc, repo, _ := newTestService(nil)
	replays := newStubReplays()
	router := newHandlerRouter(svc, replays)
	headers := map[string]string{"Idempotency-Key": "pos-receipt-42"}

	// A request that fails in the service must release the key so the
	// caller can retry with it.
	rec := doJSON(t, router, http.MethodPost, "/ledger/movements", map[string]any{
		"product_id": 101, "direction": "IN", "quantity": "0", "reason": "r", "actor": "pos",
	}, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, replays.keys)

	rec = doJSON(t, router, http.MethodPost, "/ledger/movements", map[string]any{
		"product_id": 101, "direction": "IN", "quantity": "12", "reason": "r", "actor": "pos",
	}, headers)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same key again is a replay.
	rec = doJSON(t, router, http.MethodPost, "/ledger/movements", map[string]any{
		"product_id": 101, "direction": "IN", "quantity": "12", "reason": "r", "actor": "pos",
	}, headers)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Len(t, repo.movements, 1)
}

func TestTransactionEndpoints(t *testing.T) {
	lines := &stubLines{lines: map[string][]TransactionLine{
		lineKey(KindGRV, 77): {
			{LineID: 1, ProductID: 101, ProductSKU: "FLW-PK-001", Quantity: decimal.NewFromInt(1000)},
			{LineID: 2, ProductID: 102, ProductSKU: "FLW-BD-002", Quantity: decimal.NewFromInt(500)},
		},
	}}
	svc, _, _ := newTestService(lines)
	router := newHandlerRouter(svc, nil)

	rec := doJSON(t, router, http.MethodPost, "/ledger/transactions/GRV/77/movements", map[string]any{"actor": "receiving"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"movements": 2}`, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/ledger/transactions/GRV/77/movements", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Movements []movementResponse `json:"movements"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Movements, 2)
	require.Equal(t, "GRV", listing.Movements[0].TransactionKind)

	rec = doJSON(t, router, http.MethodPost, "/ledger/transactions/GRV/77/reversal", map[string]any{
		"reason": "received against wrong site", "actor": "supervisor",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"reversed": 2}`, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/ledger/transactions/GRV/77/movements", nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Empty(t, listing.Movements)

	rec = doJSON(t, router, http.MethodGet, "/ledger/transactions/GRV/77/movements?include_reversed=1", nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Movements, 2)
	for _, m := range listing.Movements {
		require.True(t, m.Reversed)
		require.Equal(t, "received against wrong site", m.ReversalReason)
	}
}

func TestTransactionEndpointsRejectBadParams(t *testing.T) {
	svc, _, _ := newTestService(&stubLines{})
	router := newHandlerRouter(svc, nil)

	rec := doJSON(t, router, http.MethodPost, "/ledger/transactions/LOTTERY/77/movements", map[string]any{"actor": "x"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/ledger/transactions/GRV/zero/movements", map[string]any{"actor": "x"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/ledger/transactions/GRV/77/reversal", map[string]any{"actor": "x"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")
}

func TestProductSOHEndpoint(t *testing.T) {
	svc, _, _ := newTestService(nil)
	router := newHandlerRouter(svc, nil)
	ctx := context.Background()

	_, err := svc.CreateMovement(ctx, CreateMovementInput{
		ProductID: 7, Direction: DirectionIn, Quantity: decimal.NewFromInt(100), BatchCode: "0131202506140001",
		Reason: "Goods Received", Actor: "warehouse", OccurredAt: day(1),
	})
	require.NoError(t, err)
	_, err = svc.CreateMovement(ctx, CreateMovementInput{
		ProductID: 7, Direction: DirectionOut, Quantity: decimal.NewFromInt(30), BatchCode: "0131202506140001",
		Reason: "Sale", Actor: "pos", OccurredAt: day(2),
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/ledger/products/7/soh", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp sohResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "70", resp.Quantity.String())

	rec = doJSON(t, router, http.MethodGet, "/ledger/products/7/soh?as_of=2024-03-01T12:00:00Z", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "100", resp.Quantity.String())

	rec = doJSON(t, router, http.MethodGet, "/ledger/products/7/soh?batch=0131202506140001", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "70", resp.Quantity.String())

	rec = doJSON(t, router, http.MethodGet, "/ledger/products/7/soh?batch=X&as_of=2024-03-01T12:00:00Z", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/ledger/products/0/soh", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/ledger/products/7/soh?as_of=yesterday", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchSOHEndpoint(t *testing.T) {
	svc, _, _ := newTestService(nil)
	router := newHandlerRouter(svc, nil)
	ctx := context.Background()

	for product, qty := range map[int64]int64{11: 40, 12: 25} {
		_, err := svc.CreateMovement(ctx, CreateMovementInput{
			ProductID: product, Direction: DirectionIn, Quantity: decimal.NewFromInt(qty),
			Reason: fmt.Sprintf("Opening %d", product), Actor: "warehouse",
		})
		require.NoError(t, err)
	}

	rec := doJSON(t, router, http.MethodPost, "/ledger/soh", map[string]any{"product_ids": []int64{11, 12, 13}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Items []sohItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	require.Equal(t, int64(11), resp.Items[0].ProductID)
	require.Equal(t, "40", resp.Items[0].Quantity.String())
	require.Equal(t, int64(12), resp.Items[1].ProductID)
	require.Equal(t, "25", resp.Items[1].Quantity.String())

	rec = doJSON(t, router, http.MethodPost, "/ledger/soh", map[string]any{"product_ids": []int64{}}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductMovementsEndpoint(t *testing.T) {
	svc, _, _ := newTestService(nil)
	router := newHandlerRouter(svc, nil)
	ctx := context.Background()

	for d := 1; d <= 3; d++ {
		_, err := svc.CreateMovement(ctx, CreateMovementInput{
			ProductID: 7, Direction: DirectionIn, Quantity: decimal.NewFromInt(int64(d)),
			Reason: fmt.Sprintf("Receipt %d", d), Actor: "warehouse", OccurredAt: day(d),
		})
		require.NoError(t, err)
	}

	rec := doJSON(t, router, http.MethodGet, "/ledger/products/7/movements?from=2024-03-02&to=2024-03-02", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Movements []movementResponse `json:"movements"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Movements, 1)
	require.Equal(t, "2", listing.Movements[0].Quantity.String())

	rec = doJSON(t, router, http.MethodGet, "/ledger/products/7/movements?from=notadate", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
