package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is a per-denom price supplied by the oracle feed, assumed
// valid at the instant of use. Staleness and confidence are the feed's
// responsibility, not this engine's.
type PriceQuote struct {
	Denom string          `json:"denom"`
	Price decimal.Decimal `json:"price"`
	At    time.Time       `json:"at"`
}

// PriceCache stores the latest oracle quote per denom. GetPrices batches
// lookups for the denoms involved in one position.
type PriceCache interface {
	SetPrice(ctx context.Context, denom string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, denom string) (PriceQuote, error)
	GetPrices(ctx context.Context, denoms []string) (map[string]decimal.Decimal, error)
}

// LockManager provides distributed locks used to serialize writers on a
// shared market. Acquire returns an unlock function on success and
// ErrLockHeld when another party holds the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter limits request rates per key across server instances.
type RateLimiter interface {
	// Allow reports whether one more request for key fits inside the
	// window, counting it when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
