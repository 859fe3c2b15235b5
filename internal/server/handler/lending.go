package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// LendingService defines the position mutations the handler requires.
type LendingService interface {
	Deposit(ctx context.Context, account, denom string, amount decimal.Decimal, now time.Time) error
	Borrow(ctx context.Context, account string, kind domain.AccountKind, denom string, amount decimal.Decimal, now time.Time) error
	Repay(ctx context.Context, account, denom string, amount decimal.Decimal, now time.Time) (decimal.Decimal, error)
	Withdraw(ctx context.Context, account string, kind domain.AccountKind, denom string, amount decimal.Decimal, now time.Time) error
}

// LendingHandler serves the deposit, borrow, repay, and withdraw endpoints.
type LendingHandler struct {
	lending LendingService
	logger  *slog.Logger
}

// NewLendingHandler creates a LendingHandler with the given service.
func NewLendingHandler(lending LendingService, logger *slog.Logger) *LendingHandler {
	return &LendingHandler{lending: lending, logger: logger}
}

// positionRequest is the shared body for all four position mutations.
type positionRequest struct {
	Account string `json:"account"`
	Kind    string `json:"kind"`
	Denom   string `json:"denom"`
	Amount  string `json:"amount"`
}

// decodePositionRequest parses and validates the body, writing the error
// response itself on failure.
func decodePositionRequest(w http.ResponseWriter, r *http.Request) (string, domain.AccountKind, string, decimal.Decimal, bool) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", "", "", decimal.Zero, false
	}
	if req.Account == "" || req.Denom == "" {
		writeError(w, http.StatusBadRequest, "account and denom are required")
		return "", "", "", decimal.Zero, false
	}
	kind, err := accountKindFromString(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", "", decimal.Zero, false
	}
	amount, err := parsePositiveAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", "", decimal.Zero, false
	}
	return req.Account, kind, req.Denom, amount, true
}

// Deposit supplies an asset to its market.
// POST /api/positions/deposit
func (h *LendingHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	account, _, denom, amount, ok := decodePositionRequest(w, r)
	if !ok {
		return
	}

	if err := h.lending.Deposit(r.Context(), account, denom, amount, time.Now().UTC()); err != nil {
		writeServiceError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Borrow draws an asset against the account's collateral.
// POST /api/positions/borrow
func (h *LendingHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	account, kind, denom, amount, ok := decodePositionRequest(w, r)
	if !ok {
		return
	}

	if err := h.lending.Borrow(r.Context(), account, kind, denom, amount, time.Now().UTC()); err != nil {
		writeServiceError(w, r, h.logger, "borrow", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Repay pays down the account's debt. The settled amount is returned, which
// may be less than requested when the debt is smaller.
// POST /api/positions/repay
func (h *LendingHandler) Repay(w http.ResponseWriter, r *http.Request) {
	account, _, denom, amount, ok := decodePositionRequest(w, r)
	if !ok {
		return
	}

	repaid, err := h.lending.Repay(r.Context(), account, denom, amount, time.Now().UTC())
	if err != nil {
		writeServiceError(w, r, h.logger, "repay", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"repaid": repaid})
}

// Withdraw redeems deposited collateral.
// POST /api/positions/withdraw
func (h *LendingHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	account, kind, denom, amount, ok := decodePositionRequest(w, r)
	if !ok {
		return
	}

	if err := h.lending.Withdraw(r.Context(), account, kind, denom, amount, time.Now().UTC()); err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
