package reporting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cultiva-erp/cultiva-erp/internal/ledger"
)

type fakeLedger struct {
	mu        sync.Mutex
	products  []ledger.ProductRef
	stock     map[int64]decimal.Decimal
	asOfs     []time.Time
	listCalls atomic.Int64
	listDelay time.Duration
	sohErr    error
}

func (f *fakeLedger) ListProducts(ctx context.Context) ([]ledger.ProductRef, error) {
	f.listCalls.Add(1)
	if f.listDelay > 0 {
		time.Sleep(f.listDelay)
	}
	return f.products, nil
}

func (f *fakeLedger) CalculateSOH(ctx context.Context, productID int64, asOf *time.Time) (decimal.Decimal, error) {
	if f.sohErr != nil {
		return decimal.Zero, f.sohErr
	}
	f.mu.Lock()
	if asOf != nil {
		f.asOfs = append(f.asOfs, *asOf)
	}
	f.mu.Unlock()
	qty, ok := f.stock[productID]
	if !ok {
		return decimal.Zero, nil
	}
	return qty, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []Snapshot
	err   error
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.saved = append(f.saved, snapshot)
	f.mu.Unlock()
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, lg *fakeLedger, store *fakeStore) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(newTestLogger(), lg, store, NewCache(client, time.Hour), 4)
	svc.WithNow(func() time.Time { return time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC) })
	return svc, mr
}

func TestBuildSnapshot(t *testing.T) {
	lg := &fakeLedger{
		products: []ledger.ProductRef{
			{ID: 2, SKU: "OG-KUSH-3G", Name: "OG Kush 3g"},
			{ID: 1, SKU: "BD-OIL-30", Name: "Blue Dream Oil 30ml"},
		},
		stock: map[int64]decimal.Decimal{
			1: decimal.RequireFromString("75"),
			2: decimal.RequireFromString("19.5"),
		},
	}
	store := &fakeStore{}
	svc, _ := newTestService(t, lg, store)

	snapshot, err := svc.BuildSnapshot(context.Background(), "scheduler")
	require.NoError(t, err)
	require.Equal(t, 2, snapshot.Products)
	require.Len(t, snapshot.Lines, 2)
	require.Equal(t, int64(1), snapshot.Lines[0].ProductID)
	require.Equal(t, "BD-OIL-30", snapshot.Lines[0].ProductSKU)
	require.Equal(t, "75", snapshot.Lines[0].Quantity.String())
	require.Equal(t, int64(2), snapshot.Lines[1].ProductID)
	require.Equal(t, "19.5", snapshot.Lines[1].Quantity.String())
	require.Equal(t, "scheduler", snapshot.RequestedBy)

	// Every product was summed at the same cut.
	require.Len(t, lg.asOfs, 2)
	for _, asOf := range lg.asOfs {
		require.True(t, asOf.Equal(snapshot.TakenAt))
	}

	require.Len(t, store.saved, 1)
	require.True(t, store.saved[0].TakenAt.Equal(snapshot.TakenAt))

	cached, found, err := svc.CurrentSnapshot(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, cached.Products)
	require.Equal(t, "19.5", cached.Lines[1].Quantity.String())
	require.True(t, cached.TakenAt.Equal(snapshot.TakenAt))
}

func TestBuildSnapshotEmptyLedger(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newTestService(t, &fakeLedger{}, store)

	snapshot, err := svc.BuildSnapshot(context.Background(), "tester")
	require.NoError(t, err)
	require.Zero(t, snapshot.Products)
	require.Empty(t, snapshot.Lines)
	require.Len(t, store.saved, 1)
}

func TestCurrentSnapshotMiss(t *testing.T) {
	svc, _ := newTestService(t, &fakeLedger{}, &fakeStore{})

	_, found, err := svc.CurrentSnapshot(context.Background())
	require.NoError(t, err)
	require.False(t, found)
}

func TestInvalidateCache(t *testing.T) {
	lg := &fakeLedger{
		products: []ledger.ProductRef{{ID: 1, SKU: "BD-OIL-30"}},
		stock:    map[int64]decimal.Decimal{1: decimal.NewFromInt(4)},
	}
	svc, _ := newTestService(t, lg, &fakeStore{})

	_, err := svc.BuildSnapshot(context.Background(), "tester")
	require.NoError(t, err)
	_, found, err := svc.CurrentSnapshot(context.Background())
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, svc.InvalidateCache(context.Background()))

	_, found, err = svc.CurrentSnapshot(context.Background())
	require.NoError(t, err)
	require.False(t, found)
}

func TestBuildSnapshotCollapsesConcurrentCalls(t *testing.T) {
	lg := &fakeLedger{
		products:  []ledger.ProductRef{{ID: 1, SKU: "BD-OIL-30"}},
		stock:     map[int64]decimal.Decimal{1: decimal.NewFromInt(9)},
		listDelay: 50 * time.Millisecond,
	}
	svc, _ := newTestService(t, lg, &fakeStore{})

	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]Snapshot, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.BuildSnapshot(context.Background(), "tester")
		}()
	}
	close(start)
	wg.Wait()

	for i := 0; i < 5; i++ {
		require.NoError(t, errs[i])
		require.True(t, results[i].TakenAt.Equal(results[0].TakenAt))
	}
	require.Equal(t, int64(1), lg.listCalls.Load())
}

func TestBuildSnapshotStoreFailure(t *testing.T) {
	lg := &fakeLedger{
		products: []ledger.ProductRef{{ID: 1}},
		stock:    map[int64]decimal.Decimal{1: decimal.NewFromInt(3)},
	}
	svc, _ := newTestService(t, lg, &fakeStore{err: errors.New("save refused")})

	_, err := svc.BuildSnapshot(context.Background(), "tester")
	require.ErrorContains(t, err, "save refused")

	// A failed persist never reaches the cache.
	_, found, err := svc.CurrentSnapshot(context.Background())
	require.NoError(t, err)
	require.False(t, found)
}

func TestBuildSnapshotLedgerFailure(t *testing.T) {
	lg := &fakeLedger{
		products: []ledger.ProductRef{{ID: 1}},
		sohErr:   errors.New("ledger offline"),
	}
	store := &fakeStore{}
	svc, _ := newTestService(t, lg, store)

	_, err := svc.BuildSnapshot(context.Background(), "tester")
	require.ErrorContains(t, err, "ledger offline")
	require.Empty(t, store.saved)
}

func TestBuildSnapshotSurvivesCacheOutage(t *testing.T) {
	lg := &fakeLedger{
		products: []ledger.ProductRef{{ID: 1, SKU: "BD-OIL-30"}},
		stock:    map[int64]decimal.Decimal{1: decimal.NewFromInt(3)},
	}
	store := &fakeStore{}
	svc, mr := newTestService(t, lg, store)

	mr.SetError("redis down")
	snapshot, err := svc.BuildSnapshot(context.Background(), "tester")
	require.NoError(t, err)
	require.Equal(t, 1, snapshot.Products)
	require.Len(t, store.saved, 1)
}
