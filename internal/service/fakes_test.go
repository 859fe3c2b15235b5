package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// In-memory store implementations backing the service tests.

type fakeMarketStore struct {
	mu      sync.Mutex
	markets map[string]domain.AssetMarket
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{markets: map[string]domain.AssetMarket{}}
}

func (s *fakeMarketStore) Create(_ context.Context, m domain.AssetMarket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.Denom]; ok {
		return domain.ErrAlreadyExists
	}
	s.markets[m.Denom] = m
	return nil
}

func (s *fakeMarketStore) Update(_ context.Context, m domain.AssetMarket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.Denom]; !ok {
		return domain.ErrNotFound
	}
	s.markets[m.Denom] = m
	return nil
}

func (s *fakeMarketStore) GetByDenom(_ context.Context, denom string) (domain.AssetMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[denom]
	if !ok {
		return domain.AssetMarket{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeMarketStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AssetMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	denoms := make([]string, 0, len(s.markets))
	for d := range s.markets {
		denoms = append(denoms, d)
	}
	sort.Strings(denoms)
	out := make([]domain.AssetMarket, 0, len(denoms))
	for _, d := range denoms {
		out = append(out, s.markets[d])
	}
	return out, nil
}

func (s *fakeMarketStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

type balanceKey struct {
	account string
	denom   string
	kind    domain.BalanceKind
}

type fakeBalanceStore struct {
	mu       sync.Mutex
	balances map[balanceKey]domain.ScaledBalance
}

func newFakeBalanceStore() *fakeBalanceStore {
	return &fakeBalanceStore{balances: map[balanceKey]domain.ScaledBalance{}}
}

func (s *fakeBalanceStore) Get(_ context.Context, account, denom string, kind domain.BalanceKind) (domain.ScaledBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[balanceKey{account, denom, kind}]
	if !ok {
		return domain.ScaledBalance{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *fakeBalanceStore) Upsert(_ context.Context, b domain.ScaledBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey{b.Account, b.Denom, b.Kind}
	if b.ScaledAmount.IsZero() {
		delete(s.balances, key)
		return nil
	}
	s.balances[key] = b
	return nil
}

func (s *fakeBalanceStore) ListByAccount(_ context.Context, account string) ([]domain.ScaledBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScaledBalance
	for k, b := range s.balances {
		if k.account == account {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Denom != out[j].Denom {
			return out[i].Denom < out[j].Denom
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func (s *fakeBalanceStore) ListAccountsWithDebt(_ context.Context, opts domain.ListOpts) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var accounts []string
	for k := range s.balances {
		if k.kind != domain.BalanceKindDebt {
			continue
		}
		if _, ok := seen[k.account]; ok {
			continue
		}
		seen[k.account] = struct{}{}
		accounts = append(accounts, k.account)
	}
	sort.Strings(accounts)
	if opts.Offset >= len(accounts) {
		return nil, nil
	}
	accounts = accounts[opts.Offset:]
	if opts.Limit > 0 && len(accounts) > opts.Limit {
		accounts = accounts[:opts.Limit]
	}
	return accounts, nil
}

type fakeVaultPositionStore struct {
	mu        sync.Mutex
	positions map[string][]domain.VaultPosition
}

func newFakeVaultPositionStore() *fakeVaultPositionStore {
	return &fakeVaultPositionStore{positions: map[string][]domain.VaultPosition{}}
}

func (s *fakeVaultPositionStore) Upsert(_ context.Context, pos domain.VaultPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.positions[pos.Account]
	for i := range existing {
		if existing[i].VaultID == pos.VaultID {
			existing[i] = pos
			return nil
		}
	}
	s.positions[pos.Account] = append(existing, pos)
	return nil
}

func (s *fakeVaultPositionStore) ListByAccount(_ context.Context, account string) ([]domain.VaultPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.VaultPosition(nil), s.positions[account]...), nil
}

type fakeLiquidationStore struct {
	mu      sync.Mutex
	records []domain.LiquidationRecord
}

func (s *fakeLiquidationStore) Insert(_ context.Context, rec domain.LiquidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeLiquidationStore) ListRecent(_ context.Context, limit int) ([]domain.LiquidationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.records) {
		limit = len(s.records)
	}
	out := append([]domain.LiquidationRecord(nil), s.records...)
	return out[len(out)-limit:], nil
}

func (s *fakeLiquidationStore) ListBefore(_ context.Context, before time.Time) ([]domain.LiquidationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LiquidationRecord
	for _, r := range s.records {
		if r.ExecutedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeRateSnapshotStore struct {
	mu    sync.Mutex
	snaps []domain.RateSnapshot
}

func (s *fakeRateSnapshotStore) Insert(_ context.Context, snap domain.RateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *fakeRateSnapshotStore) ListByDenom(_ context.Context, denom string, _ domain.ListOpts) ([]domain.RateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RateSnapshot
	for _, snap := range s.snaps {
		if snap.Denom == denom {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *fakeRateSnapshotStore) ListBefore(_ context.Context, before time.Time) ([]domain.RateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RateSnapshot
	for _, snap := range s.snaps {
		if snap.ObservedAt.Before(before) {
			out = append(out, snap)
		}
	}
	return out, nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *fakeAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:     int64(len(s.entries) + 1),
		Event:  event,
		Detail: detail,
	})
	return nil
}

func (s *fakeAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.entries...), nil
}

type fakePriceCache struct {
	mu     sync.Mutex
	quotes map[string]domain.PriceQuote
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{quotes: map[string]domain.PriceQuote{}}
}

func (c *fakePriceCache) SetPrice(_ context.Context, denom string, price decimal.Decimal, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[denom] = domain.PriceQuote{Denom: denom, Price: price, At: ts}
	return nil
}

func (c *fakePriceCache) GetPrice(_ context.Context, denom string) (domain.PriceQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[denom]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNoPriceQuote
	}
	return q, nil
}

func (c *fakePriceCache) GetPrices(_ context.Context, denoms []string) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(denoms))
	for _, d := range denoms {
		if q, ok := c.quotes[d]; ok {
			out[d] = q.Price
		}
	}
	return out, nil
}

type fakeLockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{held: map[string]bool{}}
}

func (l *fakeLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type fakeVaultReporter struct {
	values  map[string]domain.Coin
	configs map[string]domain.VaultConfig
}

func (r *fakeVaultReporter) VaultValue(_ context.Context, vaultID string, _ domain.VaultPosition) (domain.Coin, error) {
	v, ok := r.values[vaultID]
	if !ok {
		return domain.Coin{}, domain.ErrNotFound
	}
	return v, nil
}

func (r *fakeVaultReporter) VaultConfig(_ context.Context, vaultID string) (domain.VaultConfig, error) {
	cfg, ok := r.configs[vaultID]
	if !ok {
		return domain.VaultConfig{}, domain.ErrNotFound
	}
	return cfg, nil
}

// Compile-time interface checks for the fakes.
var (
	_ domain.MarketStore        = (*fakeMarketStore)(nil)
	_ domain.BalanceStore       = (*fakeBalanceStore)(nil)
	_ domain.VaultPositionStore = (*fakeVaultPositionStore)(nil)
	_ domain.LiquidationStore   = (*fakeLiquidationStore)(nil)
	_ domain.RateSnapshotStore  = (*fakeRateSnapshotStore)(nil)
	_ domain.AuditStore         = (*fakeAuditStore)(nil)
	_ domain.PriceCache         = (*fakePriceCache)(nil)
	_ domain.LockManager        = (*fakeLockManager)(nil)
	_ domain.VaultReporter      = (*fakeVaultReporter)(nil)
)
