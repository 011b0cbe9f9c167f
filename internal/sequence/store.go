package sequence

import (
	"context"
	"errors"
)

// Store hands out monotonically increasing integers scoped by key.
// Every value is delivered exactly once per scope key, also under
// concurrent callers; the scope key is the contention granule.
type Store interface {
	// NextValue returns the next value for the key. A key seen for the
	// first time is seeded so that startingValue itself is returned.
	NextValue(ctx context.Context, scopeKey string, startingValue, ceiling int64, actor string) (int64, error)
	// NextBlock reserves n contiguous values in one atomic step and
	// returns the first. Blocks from concurrent callers never overlap
	// or interleave.
	NextBlock(ctx context.Context, scopeKey string, startingValue, ceiling, n int64, actor string) (int64, error)
	// CurrentValue reads the stored value without advancing it. Unseen
	// keys report 0.
	CurrentValue(ctx context.Context, scopeKey string) (int64, error)
	// Exists reports whether the key has a counter row.
	Exists(ctx context.Context, scopeKey string) (bool, error)
}

// ErrExhausted signals the counter hit its ceiling. The caller decides
// whether to roll to a fresh scope key or abort.
var ErrExhausted = errors.New("sequence: counter exhausted")

// ErrInvalidScopeKey indicates an empty or blank scope key.
var ErrInvalidScopeKey = errors.New("sequence: scope key must not be empty")

// ErrInvalidBlockSize indicates a block request below one value.
var ErrInvalidBlockSize = errors.New("sequence: block size must be at least 1")
