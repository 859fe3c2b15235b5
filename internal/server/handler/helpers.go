// Package handler contains the HTTP handlers for the risk engine API. Each
// handler declares a narrow local interface for the service methods it
// needs.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// writeJSON marshals v and writes it with the given status. A marshal
// failure falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain sentinel errors onto HTTP statuses. Unknown
// errors are logged and reported as a generic 500 so internals do not leak.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, action string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrMarketNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusLocked, "resource is busy, retry shortly")
	case errors.Is(err, domain.ErrInsufficientCapacity),
		errors.Is(err, domain.ErrBelowLiquidationThreshold),
		errors.Is(err, domain.ErrDepositCapExceeded),
		errors.Is(err, domain.ErrDepositDisabled),
		errors.Is(err, domain.ErrBorrowDisabled),
		errors.Is(err, domain.ErrNotLiquidatable),
		errors.Is(err, domain.ErrCloseFactorExceeded):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNoPriceQuote):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: "+action+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// parseListOpts extracts pagination from the query string. Defaults:
// limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathParam extracts a named path parameter (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseAccountKind reads the kind query parameter, defaulting to the plain
// lending account.
func parseAccountKind(r *http.Request) (domain.AccountKind, error) {
	switch v := r.URL.Query().Get("kind"); v {
	case "", string(domain.AccountKindDefault):
		return domain.AccountKindDefault, nil
	case string(domain.AccountKindMargin):
		return domain.AccountKindMargin, nil
	default:
		return "", errors.New("kind must be default or margin")
	}
}

// accountKindFromString validates a kind field from a request body.
func accountKindFromString(v string) (domain.AccountKind, error) {
	switch v {
	case "", string(domain.AccountKindDefault):
		return domain.AccountKindDefault, nil
	case string(domain.AccountKindMargin):
		return domain.AccountKindMargin, nil
	default:
		return "", errors.New("kind must be default or margin")
	}
}

// parsePositiveAmount parses a decimal string and requires it to be
// strictly positive.
func parsePositiveAmount(v string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errors.New("amount must be a decimal string")
	}
	if amount.Sign() <= 0 {
		return decimal.Zero, errors.New("amount must be positive")
	}
	return amount, nil
}
