// Package httpapi exposes the transfer engine over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/transfer-engine/internal/ledger"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
	"github.com/sheikh-saqib/transfer-engine/internal/resilience"
	"github.com/sheikh-saqib/transfer-engine/internal/transfer"
)

// TransferService is what the handlers need from the engine.
type TransferService interface {
	Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (models.TransferOutcome, error)
	GetTransaction(ctx context.Context, id int64) (models.Transaction, error)
	GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
	BreakerState() resilience.State
}

type Handler struct {
	svc    TransferService
	logger *zap.Logger
}

func NewHandler(svc TransferService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

type balanceResponse struct {
	AccountID string          `json:"accountId"`
	Balance   decimal.Decimal `json:"balance"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string           `json:"status"`
	Breaker resilience.State `json:"breaker"`
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	out, err := h.svc.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if out.IsDegraded() {
		writeJSON(w, http.StatusServiceUnavailable, out)
		return
	}
	writeJSON(w, http.StatusOK, out.Transaction)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "transaction id must be a positive integer"})
		return
	}

	tx, err := h.svc.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	balance, err := h.svc.GetBalance(r.Context(), accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: accountID, Balance: balance})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	state := h.svc.BreakerState()
	status := "ok"
	if state == resilience.StateOpen {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, Breaker: state})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, transfer.ErrTransactionNotFound):
		return http.StatusNotFound
	case ledger.IsBusinessError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
