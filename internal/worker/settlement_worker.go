package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ayo6706/trade-settlement/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchProcessor claims and executes one batch of settlement jobs.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, workerID string, batchSize int32) (int, error)
}

// SettlementWorkerPool runs independent claim/execute loops against the job
// queue. Each loop wakes on its poll interval or on a queue notification.
// Running several pools across processes is safe; claims use SKIP LOCKED.
type SettlementWorkerPool struct {
	processor    BatchProcessor
	wake         <-chan struct{}
	concurrency  int
	pollInterval time.Duration
	batchSize    int32
	idPrefix     string

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewSettlementWorkerPool(processor BatchProcessor) *SettlementWorkerPool {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "settlement"
	}
	return &SettlementWorkerPool{
		processor:    processor,
		concurrency:  4,
		pollInterval: 2 * time.Second,
		batchSize:    10,
		idPrefix:     fmt.Sprintf("%s-%d", host, os.Getpid()),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (p *SettlementWorkerPool) WithPollInterval(interval time.Duration) *SettlementWorkerPool {
	if interval > 0 {
		p.pollInterval = interval
	}
	return p
}

func (p *SettlementWorkerPool) WithBatchSize(size int32) *SettlementWorkerPool {
	if size > 0 {
		p.batchSize = size
	}
	return p
}

func (p *SettlementWorkerPool) WithConcurrency(n int) *SettlementWorkerPool {
	if n > 0 {
		p.concurrency = n
	}
	return p
}

// WithWakeup makes idle workers poll as soon as wake is signalled.
func (p *SettlementWorkerPool) WithWakeup(wake <-chan struct{}) *SettlementWorkerPool {
	p.wake = wake
	return p
}

// WithIDPrefix overrides the prefix of the worker ids recorded on claims.
func (p *SettlementWorkerPool) WithIDPrefix(prefix string) *SettlementWorkerPool {
	if prefix != "" {
		p.idPrefix = prefix
	}
	return p
}

// Start blocks until ctx is cancelled or Stop is called. Workers finish the
// job in hand; claims not yet started are released back to the queue.
func (p *SettlementWorkerPool) Start(ctx context.Context) error {
	defer close(p.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	zap.L().Info("settlement worker pool starting",
		zap.Int("concurrency", p.concurrency),
		zap.Duration("poll_interval", p.pollInterval),
		zap.Int32("batch_size", p.batchSize),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", p.idPrefix, i)
		g.Go(func() error {
			p.loop(gctx, workerID)
			return nil
		})
	}
	err := g.Wait()
	zap.L().Info("settlement worker pool stopped")
	return err
}

func (p *SettlementWorkerPool) loop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		p.drain(ctx, workerID)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// drain keeps claiming while batches come back full.
func (p *SettlementWorkerPool) drain(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		claimed, err := p.processor.ProcessBatch(ctx, workerID, p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			observability.IncrementWorkerRun("settlement", "failed")
			zap.L().Error("settlement batch failed", zap.Error(err), zap.String("worker_id", workerID))
			return
		}
		observability.IncrementWorkerRun("settlement", "success")
		if claimed < int(p.batchSize) {
			return
		}
	}
}

// ProcessOnce runs a single batch immediately.
func (p *SettlementWorkerPool) ProcessOnce(ctx context.Context) (int, error) {
	return p.processor.ProcessBatch(ctx, p.idPrefix+"-once", p.batchSize)
}

// Stop signals every worker to exit and waits for the pool to drain.
func (p *SettlementWorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.done
}

// Run starts the pool in a goroutine and returns a stop function.
func (p *SettlementWorkerPool) Run(ctx context.Context) func() {
	go func() {
		if err := p.Start(ctx); err != nil {
			zap.L().Error("settlement worker pool exited", zap.Error(err))
		}
	}()
	return p.Stop
}

func (p *SettlementWorkerPool) String() string {
	return fmt.Sprintf("SettlementWorkerPool(workers=%d, interval=%v, batch=%d)", p.concurrency, p.pollInterval, p.batchSize)
}
