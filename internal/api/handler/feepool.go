package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/go-chi/chi/v5"
)

type FeePoolReader interface {
	GetPoolBalances(ctx context.Context) ([]models.FeePool, error)
	GetPoolTransactions(ctx context.Context, poolID int32) ([]models.FeePoolTransaction, error)
}

type FeePoolHandler struct {
	svc FeePoolReader
}

func NewFeePoolHandler(svc FeePoolReader) *FeePoolHandler {
	return &FeePoolHandler{svc: svc}
}

// ListPools handles GET /v1/fee-pools.
func (h *FeePoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.svc.GetPoolBalances(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "fee-pool/read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

// ListTransactions handles GET /v1/fee-pools/{id}/transactions.
func (h *FeePoolHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-pool-id", "Invalid pool ID")
		return
	}

	txs, err := h.svc.GetPoolTransactions(r.Context(), int32(id))
	if err != nil {
		respondServiceError(w, r, err, "fee-pool/read-failed")
		return
	}
	if txs == nil {
		txs = []models.FeePoolTransaction{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"pool_id": id, "transactions": txs})
}
