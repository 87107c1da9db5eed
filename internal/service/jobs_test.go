package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/ayo6706/trade-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []domain.SettlementNotification
}

func (p *recordingPublisher) Publish(_ context.Context, msg domain.SettlementNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func newTestProcessor(store *repository.Store) *JobProcessor {
	return NewJobProcessor(store, JobProcessorConfig{
		StaleAfter:     time.Minute,
		HandlerTimeout: 5 * time.Second,
	})
}

func registerAll(p *JobProcessor, h JobHandler) {
	p.Register(domain.JobTypeLedgerUpdate, h)
	p.Register(domain.JobTypeFeeDistribution, h)
	p.Register(domain.JobTypeNotify, h)
}

func TestProcessBatch_SettlesTradeEndToEnd(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := repository.NewStore(pool)
	pools := provisionStandardPools(t, store)
	ledger := NewLedgerService(store)
	publisher := &recordingPublisher{}

	processor := newTestProcessor(store)
	processor.Register(domain.JobTypeLedgerUpdate, ledger)
	processor.Register(domain.JobTypeFeeDistribution, pools)
	processor.Register(domain.JobTypeNotify, NewNotificationService(publisher))

	correlationID, err := NewDispatcher(store, 3).Enqueue(ctx, testTrade("trade-1", "1000", "1"))
	require.NoError(t, err)

	claimed, err := processor.ProcessBatch(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, claimed)

	jobs, err := processor.GetJobStatus(ctx, correlationID)
	require.NoError(t, err)
	for _, job := range jobs {
		assert.Equal(t, domain.JobStatusCompleted, job.Status, job.JobType)
		assert.Equal(t, int32(1), job.Attempts)
		assert.NotNil(t, job.ProcessedAt)
		assert.Nil(t, job.Error)
	}

	entry, err := ledger.GetLedgerEntry(ctx, domain.LedgerKey{UserID: "user-1", Stream: "BTC-USD", Period: "2026-10", Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, entry.Gross.Equal(dec("1000")))
	assert.True(t, entry.Net.Equal(dec("999")))

	balances, err := pools.GetPoolBalances(ctx)
	require.NoError(t, err)
	assert.True(t, balances[0].AvailableBalance.Equal(dec("0.4")))

	require.Len(t, publisher.messages, 1)
	assert.Equal(t, "trade-1:notify", publisher.messages[0].EventID)
	assert.Equal(t, correlationID.String(), publisher.messages[0].CorrelationID)

	claimed, err = processor.ProcessBatch(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Zero(t, claimed)
}

func TestProcessBatch_FailsTwiceThenSucceeds(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := repository.NewStore(pool)

	var calls int32
	processor := newTestProcessor(store)
	registerAll(processor, JobHandlerFunc(func(context.Context, models.SettlementJob, domain.SettlementPayload) error {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return errors.New("downstream unavailable")
		}
		return nil
	}))

	correlationID, err := NewDispatcher(store, 3).Enqueue(ctx, testTrade("trade-1", "100", "0"))
	require.NoError(t, err)
	jobs, err := processor.GetJobStatus(ctx, correlationID)
	require.NoError(t, err)
	ledgerJob := jobs[0]
	for _, j := range jobs {
		if j.JobType == domain.JobTypeLedgerUpdate {
			ledgerJob = j
		}
	}
	// Leave only the ledger job due so every call hits it.
	_, err = pool.Exec(ctx, `UPDATE settlement_jobs SET scheduled_for = NOW() + INTERVAL '1 day' WHERE id <> $1`, ledgerJob.ID)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := processor.ProcessBatch(ctx, "worker-1", 10)
		require.NoError(t, err)
		job, err := processor.GetJob(ctx, ledgerJob.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, job.Status)
		assert.Equal(t, int32(i+1), job.Attempts)
		require.NotNil(t, job.Error)
		assert.Equal(t, "downstream unavailable", *job.Error)
		assert.Nil(t, job.ClaimedBy)
	}

	_, err = processor.ProcessBatch(ctx, "worker-1", 10)
	require.NoError(t, err)

	job, err := processor.GetJob(ctx, ledgerJob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, int32(3), job.Attempts)
	assert.Nil(t, job.Error)
}

func TestProcessBatch_DeadLettersAfterMaxAttempts(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := repository.NewStore(pool)

	processor := newTestProcessor(store)
	registerAll(processor, JobHandlerFunc(func(context.Context, models.SettlementJob, domain.SettlementPayload) error {
		return errors.New("permanent failure")
	}))

	correlationID, err := NewDispatcher(store, 3).Enqueue(ctx, testTrade("trade-1", "100", "0"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		claimed, err := processor.ProcessBatch(ctx, "worker-1", 10)
		require.NoError(t, err)
		assert.Equal(t, 2, claimed)
	}

	jobs, err := processor.GetJobStatus(ctx, correlationID)
	require.NoError(t, err)
	for _, job := range jobs {
		assert.Equal(t, domain.JobStatusDeadLetter, job.Status)
		assert.Equal(t, int32(3), job.Attempts)
		require.NotNil(t, job.Error)
		assert.Equal(t, "permanent failure", *job.Error)
		assert.NotNil(t, job.ProcessedAt)
	}

	claimed, err := processor.ProcessBatch(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Zero(t, claimed)

	stats, err := processor.GetJobStats(ctx)
	require.NoError(t, err)
	for _, s := range stats {
		if s.Status == domain.JobStatusDeadLetter {
			assert.Equal(t, int64(2), s.Count)
		} else {
			assert.Zero(t, s.Count, s.Status)
		}
	}
}

func TestProcessBatch_ConcurrentWorkersClaimEachJobOnce(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := repository.NewStore(pool)

	var executions sync.Map
	handler := JobHandlerFunc(func(_ context.Context, job models.SettlementJob, _ domain.SettlementPayload) error {
		n, _ := executions.LoadOrStore(job.ID, new(int32))
		atomic.AddInt32(n.(*int32), 1)
		return nil
	})

	dispatcher := NewDispatcher(store, 3)
	for i := 0; i < 10; i++ {
		_, err := dispatcher.Enqueue(ctx, testTrade(fmt.Sprintf("trade-%d", i), "100", "1"))
		require.NoError(t, err)
	}

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			processor := newTestProcessor(store)
			registerAll(processor, handler)
			for {
				claimed, err := processor.ProcessBatch(ctx, fmt.Sprintf("worker-%d", w), 3)
				if err != nil {
					errs <- err
					return
				}
				if claimed == 0 {
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	total := 0
	executions.Range(func(_, v any) bool {
		total++
		assert.Equal(t, int32(1), atomic.LoadInt32(v.(*int32)))
		return true
	})
	assert.Equal(t, 30, total)
}

func TestProcessBatch_RecoversStaleClaims(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := repository.NewStore(pool)

	processor := newTestProcessor(store)
	registerAll(processor, JobHandlerFunc(func(context.Context, models.SettlementJob, domain.SettlementPayload) error {
		return nil
	}))

	_, err := NewDispatcher(store, 3).Enqueue(ctx, testTrade("trade-1", "100", "0"))
	require.NoError(t, err)

	// A worker claims the jobs and dies before resolving them.
	abandoned, err := processor.claimDueJobs(ctx, "crashed-worker", 10)
	require.NoError(t, err)
	require.Len(t, abandoned, 2)

	claimed, err := processor.ProcessBatch(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Zero(t, claimed, "claims inside the lease must not be taken over")

	later := time.Now().Add(2 * time.Minute)
	processor.now = func() time.Time { return later }

	claimed, err = processor.ProcessBatch(ctx, "worker-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed)

	for _, stale := range abandoned {
		job, err := processor.GetJob(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Equal(t, int32(2), job.Attempts)
	}

	outcome, err := processor.resolve(ctx, abandoned[0], nil)
	assert.ErrorIs(t, err, domain.ErrLostClaim)
	assert.Equal(t, outcomeLostClaim, outcome)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestProcessBatch_QueuedJobsKeepTheirLease(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := repository.NewStore(pool)
	clock := &testClock{}

	workerA := newTestProcessor(store)
	workerB := newTestProcessor(store)
	workerA.now = clock.Now
	workerB.now = clock.Now

	var mu sync.Mutex
	executions := make(map[uuid.UUID]int)
	var handled int32
	handler := JobHandlerFunc(func(hctx context.Context, job models.SettlementJob, _ domain.SettlementPayload) error {
		mu.Lock()
		executions[job.ID]++
		mu.Unlock()

		// Each job is slow enough that the batch as a whole outlives the lease.
		clock.Advance(45 * time.Second)
		if *job.ClaimedBy == "worker-a" && atomic.AddInt32(&handled, 1) == 2 {
			_, err := workerB.ProcessBatch(hctx, "worker-b", 10)
			return err
		}
		return nil
	})
	registerAll(workerA, handler)
	registerAll(workerB, handler)

	dispatcher := NewDispatcher(store, 3)
	_, err := dispatcher.Enqueue(ctx, testTrade("trade-1", "100", "0"))
	require.NoError(t, err)
	_, err = dispatcher.Enqueue(ctx, testTrade("trade-2", "100", "0"))
	require.NoError(t, err)
	clock.now = time.Now()

	claimed, err := workerA.ProcessBatch(ctx, "worker-a", 10)
	require.NoError(t, err)
	require.Equal(t, 4, claimed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, executions, 4)
	for id, n := range executions {
		assert.Equal(t, 1, n, "job %s executed %d times", id, n)
		job, err := workerA.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Equal(t, int32(1), job.Attempts)
	}
}

func TestProcessBatch_SkipsJobReclaimedBeforeExecution(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := repository.NewStore(pool)

	var mu sync.Mutex
	var executed []uuid.UUID
	var stolen uuid.UUID
	processor := newTestProcessor(store)
	registerAll(processor, JobHandlerFunc(func(hctx context.Context, job models.SettlementJob, _ domain.SettlementPayload) error {
		mu.Lock()
		defer mu.Unlock()
		executed = append(executed, job.ID)
		if len(executed) == 1 {
			// Another worker takes over the next job in the batch.
			return pool.QueryRow(hctx, `UPDATE settlement_jobs SET claim_token = $1, claimed_by = 'worker-b'
				WHERE status = 'processing' AND id <> $2 RETURNING id`, uuid.New(), job.ID).Scan(&stolen)
		}
		return nil
	}))

	_, err := NewDispatcher(store, 3).Enqueue(ctx, testTrade("trade-1", "100", "0"))
	require.NoError(t, err)

	claimed, err := processor.ProcessBatch(ctx, "worker-a", 10)
	require.NoError(t, err)
	require.Equal(t, 2, claimed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, executed, 1)
	assert.NotEqual(t, stolen, executed[0])

	job, err := processor.GetJob(ctx, stolen)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)
	require.NotNil(t, job.ClaimedBy)
	assert.Equal(t, "worker-b", *job.ClaimedBy)
	assert.Equal(t, int32(1), job.Attempts)
}

func TestProcessBatch_ReleasesClaimsOnShutdown(t *testing.T) {
	pool := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := repository.NewStore(pool)

	processor := newTestProcessor(store)
	registerAll(processor, JobHandlerFunc(func(hctx context.Context, _ models.SettlementJob, _ domain.SettlementPayload) error {
		cancel()
		<-hctx.Done()
		return hctx.Err()
	}))

	correlationID, err := NewDispatcher(store, 3).Enqueue(context.Background(), testTrade("trade-1", "100", "0"))
	require.NoError(t, err)

	_, err = processor.ProcessBatch(ctx, "worker-1", 10)
	assert.ErrorIs(t, err, context.Canceled)

	jobs, err := processor.GetJobStatus(context.Background(), correlationID)
	require.NoError(t, err)
	for _, job := range jobs {
		assert.Equal(t, domain.JobStatusPending, job.Status)
		assert.Equal(t, int32(0), job.Attempts)
		assert.Nil(t, job.ClaimedBy)
	}
}

func TestProcessBatch_HandlerPanicCountsAsFailure(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := repository.NewStore(pool)

	processor := newTestProcessor(store)
	registerAll(processor, JobHandlerFunc(func(context.Context, models.SettlementJob, domain.SettlementPayload) error {
		panic("boom")
	}))

	correlationID, err := NewDispatcher(store, 1).Enqueue(ctx, testTrade("trade-1", "100", "0"))
	require.NoError(t, err)

	_, err = processor.ProcessBatch(ctx, "worker-1", 10)
	require.NoError(t, err)

	jobs, err := processor.GetJobStatus(ctx, correlationID)
	require.NoError(t, err)
	for _, job := range jobs {
		assert.Equal(t, domain.JobStatusDeadLetter, job.Status)
		require.NotNil(t, job.Error)
		assert.Contains(t, *job.Error, "boom")
	}
}

func TestGetJobStatus_UnknownCorrelation(t *testing.T) {
	pool := setupTestDB(t)
	processor := newTestProcessor(repository.NewStore(pool))

	_, err := processor.GetJobStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = processor.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCanTransitionJob(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{domain.JobStatusPending, domain.JobStatusProcessing, true},
		{domain.JobStatusProcessing, domain.JobStatusCompleted, true},
		{domain.JobStatusProcessing, domain.JobStatusFailed, true},
		{domain.JobStatusProcessing, domain.JobStatusPending, true},
		{domain.JobStatusFailed, domain.JobStatusPending, true},
		{domain.JobStatusFailed, domain.JobStatusDeadLetter, true},
		{domain.JobStatusPending, domain.JobStatusCompleted, false},
		{domain.JobStatusCompleted, domain.JobStatusPending, false},
		{domain.JobStatusDeadLetter, domain.JobStatusPending, false},
		{"unknown", domain.JobStatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canTransitionJob(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
