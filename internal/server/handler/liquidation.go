package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/service"
)

// LiquidationService defines the liquidation operations the handler needs.
type LiquidationService interface {
	Liquidate(ctx context.Context, req service.LiquidationRequest) (domain.LiquidationRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.LiquidationRecord, error)
}

// LiquidationHandler serves liquidation execution and history endpoints.
type LiquidationHandler struct {
	liquidations LiquidationService
	logger       *slog.Logger
}

// NewLiquidationHandler creates a LiquidationHandler with the given service.
func NewLiquidationHandler(liquidations LiquidationService, logger *slog.Logger) *LiquidationHandler {
	return &LiquidationHandler{liquidations: liquidations, logger: logger}
}

// liquidateRequest is the body for POST /api/liquidations.
type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	Account         string `json:"account"`
	Kind            string `json:"kind"`
	DebtDenom       string `json:"debtDenom"`
	CollateralDenom string `json:"collateralDenom"`
	RepayAmount     string `json:"repayAmount"`
}

// Liquidate repays part of an unhealthy account's debt in exchange for
// discounted collateral.
// POST /api/liquidations
func (h *LiquidationHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Liquidator == "" || req.Account == "" || req.DebtDenom == "" || req.CollateralDenom == "" {
		writeError(w, http.StatusBadRequest, "liquidator, account, debtDenom, and collateralDenom are required")
		return
	}
	kind, err := accountKindFromString(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parsePositiveAmount(req.RepayAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.liquidations.Liquidate(r.Context(), service.LiquidationRequest{
		Liquidator:      req.Liquidator,
		Account:         req.Account,
		Kind:            kind,
		DebtDenom:       req.DebtDenom,
		CollateralDenom: req.CollateralDenom,
		RepayAmount:     amount,
		Now:             time.Now().UTC(),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "liquidate", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListRecent returns the most recent liquidations.
// GET /api/liquidations/recent?limit=50
func (h *LiquidationHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	recs, err := h.liquidations.ListRecent(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "list liquidations", err)
		return
	}
	if recs == nil {
		recs = []domain.LiquidationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"liquidations": recs})
}
