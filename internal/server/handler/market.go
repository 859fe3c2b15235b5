package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/service"
)

// MarketService defines the registry methods the market handler requires.
type MarketService interface {
	CreateMarket(ctx context.Context, m domain.AssetMarket, now time.Time) (domain.AssetMarket, error)
	UpdateParams(ctx context.Context, denom string, params service.RiskParams, now time.Time) (domain.AssetMarket, error)
	GetMarket(ctx context.Context, denom string) (domain.AssetMarket, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.AssetMarket, error)
	Count(ctx context.Context) (int64, error)
}

// AccrualService defines the accrual trigger the market handler requires.
type AccrualService interface {
	Accrue(ctx context.Context, denom string, now time.Time) (domain.AssetMarket, error)
}

// MarketHandler serves the market registry endpoints.
type MarketHandler struct {
	markets  MarketService
	accruals AccrualService
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services.
func NewMarketHandler(markets MarketService, accruals AccrualService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		accruals: accruals,
		logger:   logger,
	}
}

type listMarketsResponse struct {
	Markets []domain.AssetMarket `json:"markets"`
	Total   int64                `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// ListMarkets returns listed markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	total, err := h.markets.Count(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "count markets", err)
		return
	}
	if markets == nil {
		markets = []domain.AssetMarket{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by denom.
// GET /api/markets/{denom}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	denom := pathParam(r, "denom")
	if denom == "" {
		writeError(w, http.StatusBadRequest, "missing denom")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), denom)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateMarket lists a new asset market from a JSON body carrying the denom
// and risk parameters. Accrual state fields in the body are ignored.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var m domain.AssetMarket
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if m.Denom == "" {
		writeError(w, http.StatusBadRequest, "denom is required")
		return
	}

	created, err := h.markets.CreateMarket(r.Context(), m, time.Now().UTC())
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// updateParamsRequest carries the replaceable risk parameters.
type updateParamsRequest struct {
	MaxLoanToValue         string                   `json:"maxLoanToValue"`
	LiquidationThreshold   string                   `json:"liquidationThreshold"`
	ReserveFactor          string                   `json:"reserveFactor"`
	LiquidationBonus       domain.LiquidationBonus  `json:"liquidationBonus"`
	ProtocolLiquidationFee string                   `json:"protocolLiquidationFee"`
	RateModel              domain.InterestRateModel `json:"rateModel"`
	BorrowEnabled          bool                     `json:"borrowEnabled"`
	DepositEnabled         bool                     `json:"depositEnabled"`
	DepositCap             string                   `json:"depositCap"`
}

// UpdateParams replaces a market's risk parameters without touching its
// accrual state.
// PUT /api/markets/{denom}/params
func (h *MarketHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	denom := pathParam(r, "denom")
	if denom == "" {
		writeError(w, http.StatusBadRequest, "missing denom")
		return
	}

	var req updateParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params, err := req.toRiskParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.markets.UpdateParams(r.Context(), denom, params, time.Now().UTC())
	if err != nil {
		writeServiceError(w, r, h.logger, "update market params", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Accrue advances a market's indices to the current time.
// POST /api/markets/{denom}/accrue
func (h *MarketHandler) Accrue(w http.ResponseWriter, r *http.Request) {
	denom := pathParam(r, "denom")
	if denom == "" {
		writeError(w, http.StatusBadRequest, "missing denom")
		return
	}

	m, err := h.accruals.Accrue(r.Context(), denom, time.Now().UTC())
	if err != nil {
		writeServiceError(w, r, h.logger, "accrue market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (req updateParamsRequest) toRiskParams() (service.RiskParams, error) {
	var params service.RiskParams
	var err error

	decimals := []struct {
		dst  *decimal.Decimal
		src  string
		name string
	}{
		{&params.MaxLoanToValue, req.MaxLoanToValue, "maxLoanToValue"},
		{&params.LiquidationThreshold, req.LiquidationThreshold, "liquidationThreshold"},
		{&params.ReserveFactor, req.ReserveFactor, "reserveFactor"},
		{&params.ProtocolLiquidationFee, req.ProtocolLiquidationFee, "protocolLiquidationFee"},
		{&params.DepositCap, req.DepositCap, "depositCap"},
	}
	for _, d := range decimals {
		if *d.dst, err = decimal.NewFromString(d.src); err != nil {
			return service.RiskParams{}, fmt.Errorf("%s must be a decimal string", d.name)
		}
	}

	params.LiquidationBonus = req.LiquidationBonus
	params.RateModel = req.RateModel
	params.BorrowEnabled = req.BorrowEnabled
	params.DepositEnabled = req.DepositEnabled
	return params, nil
}
