package handler

import (
	"context"
	"net/http"
	"regexp"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/go-chi/chi/v5"
)

type LedgerReader interface {
	GetLedgerEntry(ctx context.Context, key domain.LedgerKey) (models.RevenueLedgerEntry, error)
}

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

type LedgerHandler struct {
	svc LedgerReader
}

func NewLedgerHandler(svc LedgerReader) *LedgerHandler {
	return &LedgerHandler{svc: svc}
}

// GetEntry handles GET /v1/ledger/{userId}/{stream}/{period}/{currency}.
func (h *LedgerHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	key := domain.LedgerKey{
		UserID:   chi.URLParam(r, "userId"),
		Stream:   chi.URLParam(r, "stream"),
		Period:   chi.URLParam(r, "period"),
		Currency: chi.URLParam(r, "currency"),
	}
	if !periodPattern.MatchString(key.Period) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-period", "period must be YYYY-MM")
		return
	}

	entry, err := h.svc.GetLedgerEntry(r.Context(), key)
	if err != nil {
		respondServiceError(w, r, err, "ledger/read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, entry)
}
