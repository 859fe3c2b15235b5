package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/rates"
)

// MarketService manages the asset market registry: listing new markets,
// updating their risk parameters, and read access for callers.
type MarketService struct {
	markets domain.MarketStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		audit:   audit,
		logger:  logger,
	}
}

// CreateMarket validates and lists a new asset market. The caller supplies
// the risk parameters and rate model; indices, rates, totals and
// watermarks are initialized here.
func (s *MarketService) CreateMarket(ctx context.Context, m domain.AssetMarket, now time.Time) (domain.AssetMarket, error) {
	if m.Denom == "" {
		return domain.AssetMarket{}, fmt.Errorf("market_service: denom is required")
	}
	if err := validateRiskParams(m); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("market_service: market %s: %w", m.Denom, err)
	}
	if err := rates.ValidateModel(m.RateModel); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("market_service: market %s: %w", m.Denom, err)
	}

	rates.InitMarket(&m, now)

	if err := s.markets.Create(ctx, m); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("market_service: create %s: %w", m.Denom, err)
	}

	if err := s.audit.Log(ctx, "market_listed", map[string]any{
		"denom":      m.Denom,
		"rate_model": string(m.RateModel.Kind),
	}); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("denom", m.Denom),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "market_service: market listed",
		slog.String("denom", m.Denom),
		slog.String("rate_model", string(m.RateModel.Kind)),
	)
	return m, nil
}

// RiskParams is the updatable subset of a market's configuration. Accrual
// state (indices, rates, totals, watermarks) is never touched here.
type RiskParams struct {
	MaxLoanToValue         decimal.Decimal
	LiquidationThreshold   decimal.Decimal
	ReserveFactor          decimal.Decimal
	LiquidationBonus       domain.LiquidationBonus
	ProtocolLiquidationFee decimal.Decimal
	RateModel              domain.InterestRateModel
	BorrowEnabled          bool
	DepositEnabled         bool
	DepositCap             decimal.Decimal
}

// UpdateParams replaces a market's risk parameters, leaving its accrual
// state intact. The caller should accrue the market first so the old rate
// model's interest is settled before the new model takes over.
func (s *MarketService) UpdateParams(ctx context.Context, denom string, params RiskParams, now time.Time) (domain.AssetMarket, error) {
	m, err := s.markets.GetByDenom(ctx, denom)
	if err != nil {
		return domain.AssetMarket{}, fmt.Errorf("market_service: get %s: %w", denom, err)
	}

	m.MaxLoanToValue = params.MaxLoanToValue
	m.LiquidationThreshold = params.LiquidationThreshold
	m.ReserveFactor = params.ReserveFactor
	m.LiquidationBonus = params.LiquidationBonus
	m.ProtocolLiquidationFee = params.ProtocolLiquidationFee
	m.RateModel = params.RateModel
	m.BorrowEnabled = params.BorrowEnabled
	m.DepositEnabled = params.DepositEnabled
	m.DepositCap = params.DepositCap
	m.UpdatedAt = now

	if err := validateRiskParams(m); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("market_service: market %s: %w", denom, err)
	}
	if err := rates.ValidateModel(m.RateModel); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("market_service: market %s: %w", denom, err)
	}

	if err := s.markets.Update(ctx, m); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("market_service: update %s: %w", denom, err)
	}

	if err := s.audit.Log(ctx, "market_params_updated", map[string]any{
		"denom": denom,
	}); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("denom", denom),
			slog.String("error", err.Error()),
		)
	}

	return m, nil
}

// GetMarket retrieves a market by denom.
func (s *MarketService) GetMarket(ctx context.Context, denom string) (domain.AssetMarket, error) {
	m, err := s.markets.GetByDenom(ctx, denom)
	if err != nil {
		return domain.AssetMarket{}, fmt.Errorf("market_service: get %s: %w", denom, err)
	}
	return m, nil
}

// ListMarkets returns markets from the registry.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.AssetMarket, error) {
	markets, err := s.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Count returns the number of listed markets.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

var one = decimal.New(1, 0)

// validateRiskParams checks the risk-parameter invariants shared by create
// and update: LTV strictly below the liquidation threshold, both inside
// [0, 1), sane reserve factor and bonus curve.
func validateRiskParams(m domain.AssetMarket) error {
	if m.MaxLoanToValue.IsNegative() || m.MaxLoanToValue.GreaterThanOrEqual(one) {
		return fmt.Errorf("max loan-to-value %s outside [0, 1)", m.MaxLoanToValue)
	}
	if m.LiquidationThreshold.LessThanOrEqual(m.MaxLoanToValue) || m.LiquidationThreshold.GreaterThan(one) {
		return fmt.Errorf("liquidation threshold %s must lie in (max_ltv, 1]", m.LiquidationThreshold)
	}
	if m.ReserveFactor.IsNegative() || m.ReserveFactor.GreaterThanOrEqual(one) {
		return fmt.Errorf("reserve factor %s outside [0, 1)", m.ReserveFactor)
	}
	if m.ProtocolLiquidationFee.IsNegative() || m.ProtocolLiquidationFee.GreaterThan(one) {
		return fmt.Errorf("protocol liquidation fee %s outside [0, 1]", m.ProtocolLiquidationFee)
	}
	lb := m.LiquidationBonus
	if lb.MinLB.IsNegative() || lb.MaxLB.LessThan(lb.MinLB) {
		return fmt.Errorf("liquidation bonus bounds [%s, %s] invalid", lb.MinLB, lb.MaxLB)
	}
	if lb.Slope.IsNegative() || lb.StartingLB.IsNegative() {
		return fmt.Errorf("liquidation bonus curve must be non-negative")
	}
	if m.DepositCap.IsNegative() {
		return fmt.Errorf("deposit cap %s must not be negative", m.DepositCap)
	}
	return nil
}
