package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")

	// ErrInvalidUtilization indicates utilization landed outside [0, 1] by
	// more than the rounding tolerance. This is a bookkeeping bug upstream,
	// not a recoverable condition.
	ErrInvalidUtilization = errors.New("utilization outside [0, 1]")

	// ErrInsufficientCapacity is returned when a requested borrow, withdraw,
	// or swap exceeds the solved maximum, the market's available liquidity,
	// or the deposit cap.
	ErrInsufficientCapacity = errors.New("requested amount exceeds capacity")

	// ErrBelowLiquidationThreshold is returned when a mutation would leave
	// the account's max-LTV health factor below 1.
	ErrBelowLiquidationThreshold = errors.New("operation would leave account undercollateralized")

	ErrNotLiquidatable     = errors.New("account is not liquidatable")
	ErrCloseFactorExceeded = errors.New("liquidation amount exceeds close factor")

	ErrMarketNotFound     = errors.New("market not listed")
	ErrDepositDisabled    = errors.New("deposits are disabled for this market")
	ErrBorrowDisabled     = errors.New("borrowing is disabled for this market")
	ErrDepositCapExceeded = errors.New("deposit cap exceeded")
	ErrNoPriceQuote       = errors.New("no price quote available")
)
