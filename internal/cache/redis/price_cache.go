package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// PriceCache stores the latest oracle quote per denom in a Redis hash.
// Prices are stored as decimal strings so no precision is lost on the
// round trip.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(denom string) string {
	return "price:" + denom
}

// SetPrice writes the latest quote for a denom, overwriting any previous one.
func (pc *PriceCache) SetPrice(ctx context.Context, denom string, price decimal.Decimal, ts time.Time) error {
	err := pc.rdb.HSet(ctx, priceKey(denom), map[string]any{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", denom, err)
	}
	return nil
}

// GetPrice returns the latest quote for a denom. It returns
// domain.ErrNoPriceQuote if no quote has been published.
func (pc *PriceCache) GetPrice(ctx context.Context, denom string) (domain.PriceQuote, error) {
	fields, err := pc.rdb.HGetAll(ctx, priceKey(denom)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get price %s: %w", denom, err)
	}
	if len(fields) == 0 {
		return domain.PriceQuote{}, fmt.Errorf("redis: get price %s: %w", denom, domain.ErrNoPriceQuote)
	}
	return parseQuote(denom, fields)
}

// GetPrices fetches quotes for multiple denoms in a single pipelined round
// trip. Denoms without a published quote are omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, denoms []string) (map[string]decimal.Decimal, error) {
	if len(denoms) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(denoms))
	for i, denom := range denoms {
		cmds[i] = pipe.HGetAll(ctx, priceKey(denom))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(denoms))
	for i, denom := range denoms {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		quote, err := parseQuote(denom, fields)
		if err != nil {
			continue
		}
		out[denom] = quote.Price
	}
	return out, nil
}

func parseQuote(denom string, fields map[string]string) (domain.PriceQuote, error) {
	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse price %s: %w", denom, err)
	}
	nanos, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse price timestamp %s: %w", denom, err)
	}
	return domain.PriceQuote{
		Denom: denom,
		Price: price,
		At:    time.Unix(0, nanos),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
