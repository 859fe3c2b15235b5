package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists the asset market registry. Markets are created once
// per denom at listing time, mutated on every accrual, and never deleted.
type MarketStore interface {
	Create(ctx context.Context, market AssetMarket) error
	Update(ctx context.Context, market AssetMarket) error
	GetByDenom(ctx context.Context, denom string) (AssetMarket, error)
	List(ctx context.Context, opts ListOpts) ([]AssetMarket, error)
	Count(ctx context.Context) (int64, error)
}

// BalanceStore persists scaled deposit and debt balances.
type BalanceStore interface {
	// Get returns the balance for (account, denom, kind); ErrNotFound when
	// the account holds no such balance.
	Get(ctx context.Context, account, denom string, kind BalanceKind) (ScaledBalance, error)
	// Upsert writes the balance; a zero scaled amount deletes the row.
	Upsert(ctx context.Context, balance ScaledBalance) error
	// ListByAccount returns all balances held by the account.
	ListByAccount(ctx context.Context, account string) ([]ScaledBalance, error)
	// ListAccountsWithDebt returns the distinct accounts holding any debt
	// balance, for monitor scans.
	ListAccountsWithDebt(ctx context.Context, opts ListOpts) ([]string, error)
}

// VaultPositionStore persists locked vault positions.
type VaultPositionStore interface {
	Upsert(ctx context.Context, pos VaultPosition) error
	ListByAccount(ctx context.Context, account string) ([]VaultPosition, error)
}

// LiquidationRecord is one executed liquidation, kept for accounting and
// archival.
type LiquidationRecord struct {
	ID               string          `json:"id"`
	Account          string          `json:"account"`
	Liquidator       string          `json:"liquidator"`
	DebtDenom        string          `json:"debtDenom"`
	CollateralDenom  string          `json:"collateralDenom"`
	DebtRepaid       decimal.Decimal `json:"debtRepaid"`
	CollateralSeized decimal.Decimal `json:"collateralSeized"`
	Bonus            decimal.Decimal `json:"bonus"`
	ProtocolFee      decimal.Decimal `json:"protocolFee"`
	PreHealthFactor  decimal.Decimal `json:"preHealthFactor"`
	PostHealthFactor decimal.Decimal `json:"postHealthFactor"`
	ExecutedAt       time.Time       `json:"executedAt"`
}

// LiquidationStore persists liquidation history.
type LiquidationStore interface {
	Insert(ctx context.Context, rec LiquidationRecord) error
	ListRecent(ctx context.Context, limit int) ([]LiquidationRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]LiquidationRecord, error)
}

// RateSnapshot is one observation of a market's rates and indices, written
// after each accrual for monitoring and archival.
type RateSnapshot struct {
	Denom          string          `json:"denom"`
	BorrowRate     decimal.Decimal `json:"borrowRate"`
	LiquidityRate  decimal.Decimal `json:"liquidityRate"`
	LiquidityIndex decimal.Decimal `json:"liquidityIndex"`
	DebtIndex      decimal.Decimal `json:"debtIndex"`
	Utilization    decimal.Decimal `json:"utilization"`
	ObservedAt     time.Time       `json:"observedAt"`
}

// RateSnapshotStore persists accrual history.
type RateSnapshotStore interface {
	Insert(ctx context.Context, snap RateSnapshot) error
	ListByDenom(ctx context.Context, denom string, opts ListOpts) ([]RateSnapshot, error)
	ListBefore(ctx context.Context, before time.Time) ([]RateSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
