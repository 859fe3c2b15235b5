package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// VaultConfig holds a vault's risk parameters, distinct from native-asset
// markets. A non-whitelisted vault contributes nothing to borrowing power.
type VaultConfig struct {
	VaultID              string          `json:"vaultId"`
	MaxLoanToValue       decimal.Decimal `json:"maxLoanToValue"`
	LiquidationThreshold decimal.Decimal `json:"liquidationThreshold"`
	DepositCap           decimal.Decimal `json:"depositCap"`
	Whitelisted          bool            `json:"whitelisted"`
}

// VaultReporter is the external collaborator that values vault positions.
// It reports a position's current worth in a reference denom and the
// vault's risk configuration. The engine never looks inside a vault.
type VaultReporter interface {
	VaultValue(ctx context.Context, vaultID string, pos VaultPosition) (Coin, error)
	VaultConfig(ctx context.Context, vaultID string) (VaultConfig, error)
}
