package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/observability"
	"github.com/ayo6706/trade-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// JobsChannel is the Postgres NOTIFY channel signalled when jobs are queued.
const JobsChannel = "settlement_jobs"

// Dispatcher writes settlement jobs to the outbox.
type Dispatcher struct {
	store       QueryStore
	audit       *AuditService
	maxAttempts int32
	now         func() time.Time
}

func NewDispatcher(store QueryStore, maxAttempts int32) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	return &Dispatcher{
		store:       store,
		audit:       NewAuditService(),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// EnqueueSettlement queues the settlement jobs for trade on tx, the same
// transaction that persists the trade. Nothing becomes visible to workers
// unless tx commits. Enqueuing a trade twice returns the correlation id of
// the first enqueue.
func (d *Dispatcher) EnqueueSettlement(ctx context.Context, tx pgx.Tx, trade domain.Trade) (uuid.UUID, error) {
	return d.enqueue(ctx, repository.New(tx), trade)
}

// Enqueue runs EnqueueSettlement in its own transaction, for callers that
// record trades elsewhere.
func (d *Dispatcher) Enqueue(ctx context.Context, trade domain.Trade) (uuid.UUID, error) {
	var correlationID uuid.UUID
	err := d.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		correlationID, err = d.enqueue(ctx, qtx, trade)
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}
	return correlationID, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, qtx *repository.Queries, trade domain.Trade) (uuid.UUID, error) {
	correlationID := uuid.New()
	planned, err := domain.PlanSettlement(trade, correlationID)
	if err != nil {
		return uuid.Nil, err
	}

	scheduledFor := d.now().UTC()
	params := make([]repository.InsertSettlementJobParams, 0, len(planned))
	for _, job := range planned {
		payload, err := json.Marshal(job.Payload)
		if err != nil {
			return uuid.Nil, fmt.Errorf("encode %s payload: %w", job.JobType, err)
		}
		params = append(params, repository.InsertSettlementJobParams{
			ID:            uuid.New(),
			TradeID:       trade.TradeID,
			JobType:       job.JobType,
			CorrelationID: correlationID,
			Payload:       payload,
			MaxAttempts:   d.maxAttempts,
			ScheduledFor:  scheduledFor,
		})
	}

	inserted, err := qtx.InsertSettlementJobs(ctx, params)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert settlement jobs: %w", err)
	}
	if inserted == 0 {
		existing, err := qtx.GetCorrelationIDByTrade(ctx, trade.TradeID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return uuid.Nil, fmt.Errorf("trade %s skipped by outbox but has no jobs", trade.TradeID)
			}
			return uuid.Nil, fmt.Errorf("load existing correlation id: %w", err)
		}
		zap.L().Info("settlement already enqueued",
			zap.String("trade_id", trade.TradeID),
			zap.String("correlation_id", existing.String()),
		)
		return existing, nil
	}
	if inserted != int64(len(params)) {
		return uuid.Nil, fmt.Errorf("trade %s partially enqueued: %d of %d jobs", trade.TradeID, inserted, len(params))
	}

	for _, p := range params {
		if err := d.audit.Write(ctx, qtx, auditEntitySettlementJob, p.ID, "enqueued", "", domain.JobStatusPending, nil); err != nil {
			return uuid.Nil, err
		}
	}

	// Delivered to listeners only once the transaction commits.
	if err := qtx.NotifySettlementJobs(ctx, JobsChannel, correlationID.String()); err != nil {
		return uuid.Nil, fmt.Errorf("notify settlement workers: %w", err)
	}

	for _, p := range params {
		observability.IncrementJobsEnqueued(p.JobType)
	}
	zap.L().Info("settlement enqueued",
		zap.String("trade_id", trade.TradeID),
		zap.String("correlation_id", correlationID.String()),
		zap.Int("jobs", len(params)),
	)
	return correlationID, nil
}
