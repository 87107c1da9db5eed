package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type JobReader interface {
	GetJobStatus(ctx context.Context, correlationID uuid.UUID) ([]models.SettlementJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (models.SettlementJob, error)
	GetJobStats(ctx context.Context) ([]models.JobStatusCount, error)
	GetStuckJobs(ctx context.Context, olderThan time.Duration, limit int32) ([]models.SettlementJob, error)
}

const (
	defaultStuckAge   = 2 * time.Minute
	defaultStuckLimit = 50
	maxStuckLimit     = 500
)

type JobHandler struct {
	svc JobReader
}

func NewJobHandler(svc JobReader) *JobHandler {
	return &JobHandler{svc: svc}
}

// GetSettlementJobs handles GET /v1/settlements/{correlationId}/jobs.
func (h *JobHandler) GetSettlementJobs(w http.ResponseWriter, r *http.Request) {
	correlationID, err := uuid.Parse(chi.URLParam(r, "correlationId"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-correlation-id", "Invalid correlation ID")
		return
	}

	jobs, err := h.svc.GetJobStatus(r.Context(), correlationID)
	if err != nil {
		respondServiceError(w, r, err, "settlement-job/read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"correlation_id": correlationID,
		"jobs":           jobs,
	})
}

// GetJob handles GET /v1/settlement-jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-job-id", "Invalid job ID")
		return
	}
	job, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "settlement-job/read-failed")
		return
	}
	RespondJSON(w, http.StatusOK, job)
}

// GetStats handles GET /v1/settlement-jobs/stats.
func (h *JobHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetJobStats(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "settlement-job/stats-failed")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"statuses": stats})
}

// GetStuck handles GET /v1/settlement-jobs/stuck?older_than=5m&limit=100.
func (h *JobHandler) GetStuck(w http.ResponseWriter, r *http.Request) {
	olderThan := defaultStuckAge
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-older-than", "older_than must be a positive duration")
			return
		}
		olderThan = d
	}

	limit := defaultStuckLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxStuckLimit)
	}

	jobs, err := h.svc.GetStuckJobs(r.Context(), olderThan, int32(limit))
	if err != nil {
		respondServiceError(w, r, err, "settlement-job/read-failed")
		return
	}
	if jobs == nil {
		jobs = []models.SettlementJob{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"older_than": olderThan.String(),
		"jobs":       jobs,
	})
}
