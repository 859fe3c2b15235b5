package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/health"
)

// PositionService defines the read-side account queries the handler needs.
type PositionService interface {
	GetPosition(ctx context.Context, account string, kind domain.AccountKind) (domain.Position, error)
	ComputeHealth(ctx context.Context, account string, kind domain.AccountKind) (domain.HealthSnapshot, error)
	MaxBorrow(ctx context.Context, account string, kind domain.AccountKind, denom string, target health.BorrowTarget, vaultID string) (decimal.Decimal, error)
	MaxWithdraw(ctx context.Context, account string, kind domain.AccountKind, denom string) (decimal.Decimal, error)
	MaxSwap(ctx context.Context, account string, kind domain.AccountKind, fromDenom, toDenom string) (decimal.Decimal, error)
	LiquidationPrice(ctx context.Context, account string, kind domain.AccountKind, denom string) (*decimal.Decimal, error)
}

// AccountHandler serves the per-account health and capacity endpoints.
type AccountHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given service.
func NewAccountHandler(positions PositionService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{positions: positions, logger: logger}
}

// GetPosition returns the account's exposure in underlying units.
// GET /api/accounts/{account}/position?kind=default
func (h *AccountHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	account, kind, ok := h.accountParams(w, r)
	if !ok {
		return
	}

	pos, err := h.positions.GetPosition(r.Context(), account, kind)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetHealth returns the account's health snapshot.
// GET /api/accounts/{account}/health?kind=default
func (h *AccountHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	account, kind, ok := h.accountParams(w, r)
	if !ok {
		return
	}

	snap, err := h.positions.ComputeHealth(r.Context(), account, kind)
	if err != nil {
		writeServiceError(w, r, h.logger, "compute health", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// MaxBorrow returns the largest healthy borrow of a denom.
// GET /api/accounts/{account}/max-borrow?denom=uatom&target=wallet&vault_id=
func (h *AccountHandler) MaxBorrow(w http.ResponseWriter, r *http.Request) {
	account, kind, ok := h.accountParams(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	denom := q.Get("denom")
	if denom == "" {
		writeError(w, http.StatusBadRequest, "denom query parameter required")
		return
	}

	var target health.BorrowTarget
	switch q.Get("target") {
	case "", string(health.TargetWallet):
		target = health.TargetWallet
	case string(health.TargetDeposit):
		target = health.TargetDeposit
	case string(health.TargetVault):
		target = health.TargetVault
		if q.Get("vault_id") == "" {
			writeError(w, http.StatusBadRequest, "vault_id required for vault target")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "target must be wallet, deposit, or vault")
		return
	}

	amount, err := h.positions.MaxBorrow(r.Context(), account, kind, denom, target, q.Get("vault_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "compute max borrow", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount": amount})
}

// MaxWithdraw returns the largest healthy withdrawal of a denom.
// GET /api/accounts/{account}/max-withdraw?denom=uatom
func (h *AccountHandler) MaxWithdraw(w http.ResponseWriter, r *http.Request) {
	account, kind, ok := h.accountParams(w, r)
	if !ok {
		return
	}

	denom := r.URL.Query().Get("denom")
	if denom == "" {
		writeError(w, http.StatusBadRequest, "denom query parameter required")
		return
	}

	amount, err := h.positions.MaxWithdraw(r.Context(), account, kind, denom)
	if err != nil {
		writeServiceError(w, r, h.logger, "compute max withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount": amount})
}

// MaxSwap returns the largest healthy collateral swap between two denoms.
// GET /api/accounts/{account}/max-swap?from=uatom&to=uosmo&kind=default
func (h *AccountHandler) MaxSwap(w http.ResponseWriter, r *http.Request) {
	account, kind, ok := h.accountParams(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to query parameters required")
		return
	}

	amount, err := h.positions.MaxSwap(r.Context(), account, kind, from, to)
	if err != nil {
		writeServiceError(w, r, h.logger, "compute max swap", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount": amount})
}

// LiquidationPrice returns the collateral price at which the account becomes
// liquidatable, null when no such price exists.
// GET /api/accounts/{account}/liquidation-price?denom=uatom
func (h *AccountHandler) LiquidationPrice(w http.ResponseWriter, r *http.Request) {
	account, kind, ok := h.accountParams(w, r)
	if !ok {
		return
	}

	denom := r.URL.Query().Get("denom")
	if denom == "" {
		writeError(w, http.StatusBadRequest, "denom query parameter required")
		return
	}

	price, err := h.positions.LiquidationPrice(r.Context(), account, kind, denom)
	if err != nil {
		writeServiceError(w, r, h.logger, "compute liquidation price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*decimal.Decimal{"price": price})
}

// accountParams validates the path account and the kind query parameter,
// writing the error response itself when either is bad.
func (h *AccountHandler) accountParams(w http.ResponseWriter, r *http.Request) (string, domain.AccountKind, bool) {
	account := pathParam(r, "account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return "", "", false
	}
	kind, err := parseAccountKind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return account, kind, true
}
