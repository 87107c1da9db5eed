package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/ayo6706/trade-settlement/internal/observability"
	"github.com/ayo6706/trade-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// JobHandler executes one settlement job. Handlers must be safe to run more
// than once for the same job.
type JobHandler interface {
	Handle(ctx context.Context, job models.SettlementJob, payload domain.SettlementPayload) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, job models.SettlementJob, payload domain.SettlementPayload) error

func (f JobHandlerFunc) Handle(ctx context.Context, job models.SettlementJob, payload domain.SettlementPayload) error {
	return f(ctx, job, payload)
}

// JobProcessorConfig tunes retry and lease behaviour.
type JobProcessorConfig struct {
	Backoff        domain.BackoffPolicy
	StaleAfter     time.Duration
	HandlerTimeout time.Duration
}

// JobProcessor claims due settlement jobs and drives them to a terminal state.
type JobProcessor struct {
	store    QueryStore
	audit    *AuditService
	cfg      JobProcessorConfig
	handlers map[string]JobHandler
	now      func() time.Time
}

const (
	outcomeCompleted  = "completed"
	outcomeRetried    = "retried"
	outcomeDeadLetter = "dead_letter"
	outcomeReleased   = "released"
	outcomeLostClaim  = "lost_claim"
)

func NewJobProcessor(store QueryStore, cfg JobProcessorConfig) *JobProcessor {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	return &JobProcessor{
		store:    store,
		audit:    NewAuditService(),
		cfg:      cfg,
		handlers: make(map[string]JobHandler),
		now:      time.Now,
	}
}

// Register binds a handler to a job type. It is not safe to call once
// workers are running.
func (p *JobProcessor) Register(jobType string, h JobHandler) {
	p.handlers[jobType] = h
}

// ProcessBatch recovers expired leases, claims up to batchSize due jobs and
// executes them in order. It returns the number of jobs claimed.
func (p *JobProcessor) ProcessBatch(ctx context.Context, workerID string, batchSize int32) (int, error) {
	if err := p.recoverStaleJobs(ctx, batchSize); err != nil {
		return 0, err
	}

	claimed, err := p.claimDueJobs(ctx, workerID, batchSize)
	if err != nil {
		return 0, err
	}

	lost := make(map[uuid.UUID]struct{})
	for i, job := range claimed {
		if err := ctx.Err(); err != nil {
			if releaseErr := p.releaseClaims(context.Background(), claimed[i:]); releaseErr != nil {
				zap.L().Error("failed to release claimed jobs on context cancellation", zap.Error(releaseErr))
			}
			return len(claimed), err
		}

		// Jobs wait in the batch while earlier ones run; keep their leases
		// fresh so stale recovery never takes a job this worker still holds.
		if i > 0 {
			if err := p.renewClaims(ctx, claimed[i:], lost); err != nil {
				if releaseErr := p.releaseClaims(context.Background(), claimed[i:]); releaseErr != nil {
					zap.L().Error("failed to release claimed jobs after lease renewal error", zap.Error(releaseErr))
				}
				return len(claimed), err
			}
		}
		if _, gone := lost[job.ID]; gone {
			zap.L().Warn("settlement job claim lost before execution",
				zap.String("job_id", job.ID.String()),
				zap.String("job_type", job.JobType),
			)
			observability.ObserveJobProcessed(job.JobType, outcomeLostClaim, 0)
			continue
		}

		start := p.now()
		execErr := p.execute(ctx, job)
		elapsed := p.now().Sub(start)

		if execErr != nil && ctx.Err() != nil {
			// Shutdown interrupted the handler; put the job back without spending the attempt.
			if releaseErr := p.releaseClaims(context.Background(), claimed[i:]); releaseErr != nil {
				zap.L().Error("failed to release claimed jobs on context cancellation", zap.Error(releaseErr))
			}
			observability.ObserveJobProcessed(job.JobType, outcomeReleased, elapsed)
			return len(claimed), ctx.Err()
		}

		outcome, err := p.resolve(ctx, job, execErr)
		if err != nil {
			if errors.Is(err, domain.ErrLostClaim) {
				zap.L().Warn("settlement job claim lost before resolution",
					zap.String("job_id", job.ID.String()),
					zap.String("job_type", job.JobType),
				)
			} else {
				zap.L().Error("failed to record settlement job outcome",
					zap.Error(err),
					zap.String("job_id", job.ID.String()),
				)
			}
		}
		observability.ObserveJobProcessed(job.JobType, outcome, elapsed)
	}

	return len(claimed), nil
}

func (p *JobProcessor) claimDueJobs(ctx context.Context, workerID string, batchSize int32) ([]models.SettlementJob, error) {
	var jobs []models.SettlementJob
	err := p.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		now := p.now().UTC()
		due, err := qtx.GetDueSettlementJobs(ctx, now, batchSize)
		if err != nil {
			return fmt.Errorf("fetch due settlement jobs: %w", err)
		}

		jobs = make([]models.SettlementJob, 0, len(due))
		for _, job := range due {
			token := uuid.New()
			rows, err := qtx.ClaimSettlementJob(ctx, repository.ClaimSettlementJobParams{
				ID:         job.ID,
				ClaimedBy:  workerID,
				ClaimToken: token,
				ClaimedAt:  now,
			})
			if err != nil {
				return fmt.Errorf("claim settlement job %s: %w", job.ID, err)
			}
			if err := requireExactlyOne(rows, "claim settlement job"); err != nil {
				return err
			}
			if err := recordJobTransition(ctx, qtx, p.audit, job.ID, job.Status, domain.JobStatusProcessing, "claimed", nil); err != nil {
				return err
			}

			job.Status = domain.JobStatusProcessing
			job.Attempts++
			job.ClaimedBy = &workerID
			job.ClaimedAt = &now
			job.ClaimToken = &token
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (p *JobProcessor) execute(ctx context.Context, job models.SettlementJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	handler, ok := p.handlers[job.JobType]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.JobType)
	}
	payload, err := domain.DecodePayload(job.Payload)
	if err != nil {
		return err
	}

	handlerCtx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	defer cancel()
	return handler.Handle(handlerCtx, job, payload)
}

func (p *JobProcessor) resolve(ctx context.Context, job models.SettlementJob, execErr error) (string, error) {
	if execErr == nil {
		err := p.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			rows, err := qtx.CompleteSettlementJob(ctx, job.ID, job.ClaimToken, p.now().UTC())
			if err != nil {
				return fmt.Errorf("complete settlement job: %w", err)
			}
			if rows == 0 {
				return domain.ErrLostClaim
			}
			return recordJobTransition(ctx, qtx, p.audit, job.ID, domain.JobStatusProcessing, domain.JobStatusCompleted, "completed", nil)
		})
		if err != nil {
			if errors.Is(err, domain.ErrLostClaim) {
				return outcomeLostClaim, err
			}
			return outcomeCompleted, err
		}
		zap.L().Debug("settlement job completed",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", job.JobType),
			zap.String("correlation_id", job.CorrelationID.String()),
			zap.Int32("attempts", job.Attempts),
		)
		return outcomeCompleted, nil
	}

	var outcome string
	err := p.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		outcome, err = p.failJob(ctx, qtx, job, execErr.Error(), "handler_failed")
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrLostClaim) {
			return outcomeLostClaim, err
		}
		return outcome, err
	}
	return outcome, nil
}

// failJob records a failed attempt and either schedules a retry or moves the
// job to the dead-letter state once its attempts are exhausted.
func (p *JobProcessor) failJob(ctx context.Context, qtx *repository.Queries, job models.SettlementJob, reason, action string) (string, error) {
	rows, err := qtx.FailSettlementJob(ctx, job.ID, job.ClaimToken, reason)
	if err != nil {
		return "", fmt.Errorf("fail settlement job: %w", err)
	}
	if rows == 0 {
		return "", domain.ErrLostClaim
	}
	metadata, err := marshalReasonMetadata(reason)
	if err != nil {
		return "", fmt.Errorf("encode failure metadata: %w", err)
	}
	if err := recordJobTransition(ctx, qtx, p.audit, job.ID, domain.JobStatusProcessing, domain.JobStatusFailed, action, metadata); err != nil {
		return "", err
	}

	now := p.now().UTC()
	if job.Attempts < job.MaxAttempts {
		retryAt := now.Add(p.cfg.Backoff.Delay(job.Attempts))
		rows, err := qtx.RescheduleFailedJob(ctx, job.ID, retryAt)
		if err != nil {
			return "", fmt.Errorf("reschedule settlement job: %w", err)
		}
		if err := requireExactlyOne(rows, "reschedule settlement job"); err != nil {
			return "", err
		}
		if err := recordJobTransition(ctx, qtx, p.audit, job.ID, domain.JobStatusFailed, domain.JobStatusPending, "retry_scheduled", nil); err != nil {
			return "", err
		}
		zap.L().Warn("settlement job failed; retry scheduled",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", job.JobType),
			zap.Int32("attempts", job.Attempts),
			zap.Time("retry_at", retryAt),
			zap.String("error", reason),
		)
		return outcomeRetried, nil
	}

	rows, err = qtx.DeadLetterFailedJob(ctx, job.ID, now)
	if err != nil {
		return "", fmt.Errorf("dead-letter settlement job: %w", err)
	}
	if err := requireExactlyOne(rows, "dead-letter settlement job"); err != nil {
		return "", err
	}
	if err := recordJobTransition(ctx, qtx, p.audit, job.ID, domain.JobStatusFailed, domain.JobStatusDeadLetter, "dead_lettered", metadata); err != nil {
		return "", err
	}
	zap.L().Error("settlement job moved to dead letter",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", job.JobType),
		zap.String("trade_id", job.TradeID),
		zap.Int32("attempts", job.Attempts),
		zap.String("error", reason),
	)
	return outcomeDeadLetter, nil
}

// recoverStaleJobs treats processing jobs whose lease has expired as failed
// attempts, so a job that keeps crashing its worker still dead-letters.
func (p *JobProcessor) recoverStaleJobs(ctx context.Context, batchSize int32) error {
	cutoff := p.now().UTC().Add(-p.cfg.StaleAfter)
	var recovered int
	err := p.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		stale, err := qtx.GetStaleProcessingJobs(ctx, cutoff, batchSize)
		if err != nil {
			return fmt.Errorf("load stale processing jobs: %w", err)
		}
		reason := fmt.Sprintf("processing lease expired after %s", p.cfg.StaleAfter)
		for _, job := range stale {
			outcome, err := p.failJob(ctx, qtx, job, reason, "lease_expired")
			if err != nil {
				return fmt.Errorf("recover stale job %s: %w", job.ID, err)
			}
			observability.ObserveJobProcessed(job.JobType, outcome, 0)
		}
		recovered = len(stale)
		return nil
	})
	if err != nil {
		return err
	}

	if recovered > 0 {
		observability.AddStaleJobsRecovered(recovered)
		zap.L().Warn("recovered stale processing jobs", zap.Int("count", recovered))
	}
	return nil
}

// renewClaims extends the lease on jobs still waiting in the batch. Any job
// whose claim is no longer held is added to lost.
func (p *JobProcessor) renewClaims(ctx context.Context, pending []models.SettlementJob, lost map[uuid.UUID]struct{}) error {
	renewed, err := p.store.Queries().RenewSettlementJobClaims(ctx, pending, p.now().UTC())
	if err != nil {
		return fmt.Errorf("renew settlement job claims: %w", err)
	}
	held := make(map[uuid.UUID]struct{}, len(renewed))
	for _, id := range renewed {
		held[id] = struct{}{}
	}
	for _, job := range pending {
		if _, ok := held[job.ID]; !ok {
			lost[job.ID] = struct{}{}
		}
	}
	return nil
}

// releaseClaims returns claimed jobs to pending without consuming an attempt.
func (p *JobProcessor) releaseClaims(ctx context.Context, jobs []models.SettlementJob) error {
	if len(jobs) == 0 {
		return nil
	}
	return p.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		for _, job := range jobs {
			rows, err := qtx.ReleaseSettlementJobClaim(ctx, job.ID, job.ClaimToken)
			if err != nil {
				return fmt.Errorf("release settlement job %s: %w", job.ID, err)
			}
			if rows == 0 {
				continue
			}
			if err := recordJobTransition(ctx, qtx, p.audit, job.ID, domain.JobStatusProcessing, domain.JobStatusPending, "released", nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetJobStatus returns every job queued for a settlement.
func (p *JobProcessor) GetJobStatus(ctx context.Context, correlationID uuid.UUID) ([]models.SettlementJob, error) {
	jobs, err := p.store.Queries().GetSettlementJobsByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("load settlement jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, domain.ErrNotFound
	}
	return jobs, nil
}

// GetJob returns a single job by id.
func (p *JobProcessor) GetJob(ctx context.Context, id uuid.UUID) (models.SettlementJob, error) {
	job, err := p.store.Queries().GetSettlementJob(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SettlementJob{}, domain.ErrNotFound
		}
		return models.SettlementJob{}, fmt.Errorf("load settlement job: %w", err)
	}
	return job, nil
}

// GetJobStats returns the job count for every status, including empty ones.
func (p *JobProcessor) GetJobStats(ctx context.Context) ([]models.JobStatusCount, error) {
	counts, err := p.store.Queries().CountSettlementJobsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count settlement jobs: %w", err)
	}
	byStatus := make(map[string]int64, len(counts))
	for _, c := range counts {
		byStatus[c.Status] = c.Count
	}
	stats := make([]models.JobStatusCount, 0, len(domain.JobStatuses))
	for _, status := range domain.JobStatuses {
		stats = append(stats, models.JobStatusCount{Status: status, Count: byStatus[status]})
	}
	return stats, nil
}

// GetStuckJobs lists processing jobs claimed more than olderThan ago.
func (p *JobProcessor) GetStuckJobs(ctx context.Context, olderThan time.Duration, limit int32) ([]models.SettlementJob, error) {
	jobs, err := p.store.Queries().GetProcessingJobsClaimedBefore(ctx, p.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("load stuck settlement jobs: %w", err)
	}
	return jobs, nil
}
