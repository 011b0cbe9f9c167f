package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cultiva-erp/cultiva-erp/internal/ledger"
)

const defaultFanout = 8

// LedgerPort is the slice of the ledger service the reporting side needs.
type LedgerPort interface {
	ListProducts(ctx context.Context) ([]ledger.ProductRef, error)
	CalculateSOH(ctx context.Context, productID int64, asOf *time.Time) (decimal.Decimal, error)
}

// SnapshotStore persists finished snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
}

// Service builds stock on hand snapshots by fanning out over the ledger
// and caches the rendered result.
type Service struct {
	logger *slog.Logger
	ledger LedgerPort
	store  SnapshotStore
	cache  *Cache
	fanout int
	now    func() time.Time

	builds singleflight.Group
}

// NewService wires the reporting service. A fanout of zero or less
// falls back to the default.
func NewService(logger *slog.Logger, ledgerSvc LedgerPort, store SnapshotStore, cache *Cache, fanout int) *Service {
	if fanout <= 0 {
		fanout = defaultFanout
	}
	return &Service{
		logger: logger,
		ledger: ledgerSvc,
		store:  store,
		cache:  cache,
		fanout: fanout,
		now:    time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CurrentSnapshot returns the cached snapshot when one exists.
func (s *Service) CurrentSnapshot(ctx context.Context) (Snapshot, bool, error) {
	snapshot, found, err := s.cache.Load(ctx)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load cached snapshot: %w", err)
	}
	return snapshot, found, nil
}

// BuildSnapshot computes stock on hand for every known product, persists
// the result and refreshes the cache. Concurrent callers share one build.
func (s *Service) BuildSnapshot(ctx context.Context, requestedBy string) (Snapshot, error) {
	resultChan := s.builds.DoChan("soh", func() (interface{}, error) {
		return s.buildSnapshot(context.WithoutCancel(ctx), requestedBy)
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

func (s *Service) buildSnapshot(ctx context.Context, requestedBy string) (Snapshot, error) {
	// Every product is summed as of the same instant so the report is a
	// consistent cut even though the sums run concurrently.
	takenAt := s.now().UTC()

	products, err := s.ledger.ListProducts(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list products: %w", err)
	}

	lines := make([]SnapshotLine, len(products))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i, product := range products {
		g.Go(func() error {
			qty, err := s.ledger.CalculateSOH(gctx, product.ID, &takenAt)
			if err != nil {
				return fmt.Errorf("stock on hand for product %d: %w", product.ID, err)
			}
			lines[i] = SnapshotLine{
				ProductID:   product.ID,
				ProductSKU:  product.SKU,
				ProductName: product.Name,
				Quantity:    qty,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	snapshot := Snapshot{
		TakenAt:     takenAt,
		RequestedBy: requestedBy,
		Products:    len(lines),
		Lines:       lines,
	}

	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, snapshot); err != nil {
			return Snapshot{}, fmt.Errorf("save snapshot: %w", err)
		}
	}
	if err := s.cache.Store(ctx, snapshot); err != nil {
		s.logger.Warn("snapshot cache store failed", slog.Any("error", err))
	}

	s.logger.Info("soh snapshot built",
		slog.Time("taken_at", takenAt),
		slog.Int("products", len(lines)),
		slog.String("requested_by", requestedBy))
	return snapshot, nil
}

// InvalidateCache bumps the cache version after ledger writes so stale
// snapshots stop serving.
func (s *Service) InvalidateCache(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}
