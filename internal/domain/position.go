package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind distinguishes plain lending accounts from cross-margin
// accounts managed by a credit account manager.
type AccountKind string

const (
	AccountKindDefault AccountKind = "default"
	AccountKindMargin  AccountKind = "margin"
)

// BalanceKind discriminates the two sides of a scaled balance.
type BalanceKind string

const (
	BalanceKindDeposit BalanceKind = "deposit"
	BalanceKindDebt    BalanceKind = "debt"
)

// Coin is a (denom, amount) pair in underlying units.
type Coin struct {
	Denom  string          `json:"denom"`
	Amount decimal.Decimal `json:"amount"`
}

// ScaledBalance is a user's deposit or debt in one market, stored as the
// scaled amount fixed at mint/burn time. The underlying amount at any time
// is ScaledAmount * current index; it grows as the index advances without
// any per-holder update.
type ScaledBalance struct {
	Account      string          `json:"account"`
	Denom        string          `json:"denom"`
	Kind         BalanceKind     `json:"kind"`
	ScaledAmount decimal.Decimal `json:"scaledAmount"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Underlying converts the scaled amount with the given index.
func (b ScaledBalance) Underlying(index decimal.Decimal) decimal.Decimal {
	return b.ScaledAmount.Mul(index)
}

// VaultPosition is a locked position in an external vault, valued through
// the VaultReporter collaborator rather than a native asset market.
type VaultPosition struct {
	Account   string          `json:"account"`
	VaultID   string          `json:"vaultId"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Position is an account's full exposure: deposits and debts in underlying
// units plus any vault positions.
type Position struct {
	Account  string          `json:"account"`
	Kind     AccountKind     `json:"kind"`
	Deposits []Coin          `json:"deposits"`
	Debts    []Coin          `json:"debts"`
	Vaults   []VaultPosition `json:"vaults"`
}

// HasDebt reports whether the position owes anything.
func (p Position) HasDebt() bool {
	for _, d := range p.Debts {
		if d.Amount.IsPositive() {
			return true
		}
	}
	return false
}

// DepositAmount returns the deposited amount of denom, zero if absent.
func (p Position) DepositAmount(denom string) decimal.Decimal {
	for _, c := range p.Deposits {
		if c.Denom == denom {
			return c.Amount
		}
	}
	return decimal.Zero
}

// DebtAmount returns the owed amount of denom, zero if absent.
func (p Position) DebtAmount(denom string) decimal.Decimal {
	for _, c := range p.Debts {
		if c.Denom == denom {
			return c.Amount
		}
	}
	return decimal.Zero
}
