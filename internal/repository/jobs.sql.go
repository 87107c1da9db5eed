package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const settlementJobColumns = `id, trade_id, job_type, correlation_id, status, payload, attempts, max_attempts,
	error, scheduled_for, processed_at, claimed_by, claim_token, claimed_at, created_at, updated_at`

func scanSettlementJob(row pgx.Row) (models.SettlementJob, error) {
	var j models.SettlementJob
	var payload []byte
	err := row.Scan(
		&j.ID,
		&j.TradeID,
		&j.JobType,
		&j.CorrelationID,
		&j.Status,
		&payload,
		&j.Attempts,
		&j.MaxAttempts,
		&j.Error,
		&j.ScheduledFor,
		&j.ProcessedAt,
		&j.ClaimedBy,
		&j.ClaimToken,
		&j.ClaimedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	j.Payload = json.RawMessage(payload)
	return j, err
}

func collectSettlementJobs(rows pgx.Rows) ([]models.SettlementJob, error) {
	defer rows.Close()
	var jobs []models.SettlementJob
	for rows.Next() {
		j, err := scanSettlementJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type InsertSettlementJobParams struct {
	ID            uuid.UUID
	TradeID       string
	JobType       string
	CorrelationID uuid.UUID
	Payload       []byte
	MaxAttempts   int32
	ScheduledFor  time.Time
}

const insertSettlementJob = `
INSERT INTO settlement_jobs (id, trade_id, job_type, correlation_id, status, payload, attempts, max_attempts, scheduled_for)
VALUES ($1, $2, $3, $4, 'pending', $5, 0, $6, $7)
ON CONFLICT (trade_id, job_type) DO NOTHING
`

// InsertSettlementJobs queues every row in one batch round trip and returns
// how many were inserted. Rows for a (trade, job type) pair that already
// exists are skipped.
func (q *Queries) InsertSettlementJobs(ctx context.Context, params []InsertSettlementJobParams) (int64, error) {
	batch := &pgx.Batch{}
	for _, p := range params {
		batch.Queue(insertSettlementJob, p.ID, p.TradeID, p.JobType, p.CorrelationID, p.Payload, p.MaxAttempts, p.ScheduledFor)
	}

	results := q.db.SendBatch(ctx, batch)
	var inserted int64
	for range params {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return inserted, err
		}
		inserted += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

const notifySettlementJobs = `SELECT pg_notify($1, $2)`

// NotifySettlementJobs raises a Postgres notification. Inside a transaction it
// is only delivered to listeners once the transaction commits.
func (q *Queries) NotifySettlementJobs(ctx context.Context, channel, payload string) error {
	_, err := q.db.Exec(ctx, notifySettlementJobs, channel, payload)
	return err
}

const getCorrelationIDByTrade = `
SELECT correlation_id FROM settlement_jobs WHERE trade_id = $1 ORDER BY created_at LIMIT 1
`

func (q *Queries) GetCorrelationIDByTrade(ctx context.Context, tradeID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, getCorrelationIDByTrade, tradeID).Scan(&id)
	return id, err
}

const getDueSettlementJobs = `
SELECT ` + settlementJobColumns + `
FROM settlement_jobs
WHERE status = 'pending' AND scheduled_for <= $1
ORDER BY scheduled_for ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`

// GetDueSettlementJobs locks due pending jobs. Rows locked by another
// transaction are skipped so concurrent claimers never block on each other.
func (q *Queries) GetDueSettlementJobs(ctx context.Context, now time.Time, limit int32) ([]models.SettlementJob, error) {
	rows, err := q.db.Query(ctx, getDueSettlementJobs, now, limit)
	if err != nil {
		return nil, err
	}
	return collectSettlementJobs(rows)
}

const claimSettlementJob = `
UPDATE settlement_jobs
SET status = 'processing',
    attempts = attempts + 1,
    claimed_by = $2,
    claim_token = $3,
    claimed_at = $4,
    updated_at = NOW()
WHERE id = $1 AND status = 'pending'
`

type ClaimSettlementJobParams struct {
	ID         uuid.UUID
	ClaimedBy  string
	ClaimToken uuid.UUID
	ClaimedAt  time.Time
}

// ClaimSettlementJob moves a job from pending to processing. Zero rows means
// another worker won the claim.
func (q *Queries) ClaimSettlementJob(ctx context.Context, arg ClaimSettlementJobParams) (int64, error) {
	tag, err := q.db.Exec(ctx, claimSettlementJob, arg.ID, arg.ClaimedBy, arg.ClaimToken, arg.ClaimedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getStaleProcessingJobs = `
SELECT ` + settlementJobColumns + `
FROM settlement_jobs
WHERE status = 'processing' AND claimed_at < $1
ORDER BY claimed_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`

func (q *Queries) GetStaleProcessingJobs(ctx context.Context, cutoff time.Time, limit int32) ([]models.SettlementJob, error) {
	rows, err := q.db.Query(ctx, getStaleProcessingJobs, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectSettlementJobs(rows)
}

const getProcessingJobsClaimedBefore = `
SELECT ` + settlementJobColumns + `
FROM settlement_jobs
WHERE status = 'processing' AND claimed_at < $1
ORDER BY claimed_at ASC
LIMIT $2
`

// GetProcessingJobsClaimedBefore is the read-only view of stuck jobs for ops.
func (q *Queries) GetProcessingJobsClaimedBefore(ctx context.Context, cutoff time.Time, limit int32) ([]models.SettlementJob, error) {
	rows, err := q.db.Query(ctx, getProcessingJobsClaimedBefore, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectSettlementJobs(rows)
}

const completeSettlementJob = `
UPDATE settlement_jobs
SET status = 'completed', error = NULL, processed_at = $3, updated_at = NOW()
WHERE id = $1 AND status = 'processing' AND claim_token IS NOT DISTINCT FROM $2
`

func (q *Queries) CompleteSettlementJob(ctx context.Context, id uuid.UUID, claimToken *uuid.UUID, processedAt time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, completeSettlementJob, id, claimToken, processedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const failSettlementJob = `
UPDATE settlement_jobs
SET status = 'failed', error = $3, updated_at = NOW()
WHERE id = $1 AND status = 'processing' AND claim_token IS NOT DISTINCT FROM $2
`

func (q *Queries) FailSettlementJob(ctx context.Context, id uuid.UUID, claimToken *uuid.UUID, errMsg string) (int64, error) {
	tag, err := q.db.Exec(ctx, failSettlementJob, id, claimToken, errMsg)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const rescheduleFailedJob = `
UPDATE settlement_jobs
SET status = 'pending', scheduled_for = $2, claimed_by = NULL, claim_token = NULL, claimed_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'failed'
`

func (q *Queries) RescheduleFailedJob(ctx context.Context, id uuid.UUID, scheduledFor time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, rescheduleFailedJob, id, scheduledFor)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deadLetterFailedJob = `
UPDATE settlement_jobs
SET status = 'dead_letter', processed_at = $2, claimed_by = NULL, claim_token = NULL, claimed_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'failed'
`

func (q *Queries) DeadLetterFailedJob(ctx context.Context, id uuid.UUID, processedAt time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, deadLetterFailedJob, id, processedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const releaseSettlementJobClaim = `
UPDATE settlement_jobs
SET status = 'pending', attempts = GREATEST(attempts - 1, 0),
    claimed_by = NULL, claim_token = NULL, claimed_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'processing' AND claim_token IS NOT DISTINCT FROM $2
`

// ReleaseSettlementJobClaim hands an unstarted job back without consuming the attempt.
func (q *Queries) ReleaseSettlementJobClaim(ctx context.Context, id uuid.UUID, claimToken *uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, releaseSettlementJobClaim, id, claimToken)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const renewSettlementJobClaims = `
UPDATE settlement_jobs AS j
SET claimed_at = $3, updated_at = NOW()
FROM unnest($1::uuid[], $2::uuid[]) AS c(id, claim_token)
WHERE j.id = c.id AND j.status = 'processing' AND j.claim_token = c.claim_token
RETURNING j.id
`

// RenewSettlementJobClaims moves the lease of every job still held under its
// token to claimedAt and returns the ids that were renewed. Jobs missing from
// the result were reclaimed by someone else.
func (q *Queries) RenewSettlementJobClaims(ctx context.Context, jobs []models.SettlementJob, claimedAt time.Time) ([]uuid.UUID, error) {
	ids := make([]string, 0, len(jobs))
	tokens := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if j.ClaimToken == nil {
			continue
		}
		ids = append(ids, j.ID.String())
		tokens = append(tokens, j.ClaimToken.String())
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := q.db.Query(ctx, renewSettlementJobClaims, ids, tokens, claimedAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var renewed []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		renewed = append(renewed, id)
	}
	return renewed, rows.Err()
}

const getSettlementJob = `SELECT ` + settlementJobColumns + ` FROM settlement_jobs WHERE id = $1`

func (q *Queries) GetSettlementJob(ctx context.Context, id uuid.UUID) (models.SettlementJob, error) {
	return scanSettlementJob(q.db.QueryRow(ctx, getSettlementJob, id))
}

const getSettlementJobsByCorrelation = `
SELECT ` + settlementJobColumns + `
FROM settlement_jobs
WHERE correlation_id = $1
ORDER BY created_at ASC, job_type ASC
`

func (q *Queries) GetSettlementJobsByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]models.SettlementJob, error) {
	rows, err := q.db.Query(ctx, getSettlementJobsByCorrelation, correlationID)
	if err != nil {
		return nil, err
	}
	return collectSettlementJobs(rows)
}

const countSettlementJobsByStatus = `
SELECT status, COUNT(*) FROM settlement_jobs GROUP BY status ORDER BY status
`

func (q *Queries) CountSettlementJobsByStatus(ctx context.Context) ([]models.JobStatusCount, error) {
	rows, err := q.db.Query(ctx, countSettlementJobsByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.JobStatusCount
	for rows.Next() {
		var c models.JobStatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan job status count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
