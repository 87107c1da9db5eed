package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/trade-settlement/internal/observability"
	"github.com/ayo6706/trade-settlement/internal/service"
	"go.uber.org/zap"
)

// Reconciler replays fee pool history against cached balances.
type Reconciler interface {
	Run(ctx context.Context) ([]service.PoolReconciliation, error)
}

const (
	runSuccess    = "success"
	runFailed     = "failed"
	runImbalanced = "imbalanced"
)

// ReconciliationWorker replays every fee pool on a fixed interval, starting
// with one pass at startup.
type ReconciliationWorker struct {
	svc        Reconciler
	interval   time.Duration
	runTimeout time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

func NewReconciliationWorker(svc Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:        svc,
		interval:   time.Hour,
		runTimeout: 5 * time.Minute,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
		w.runTimeout = min(w.runTimeout, interval)
	}
	return w
}

// Start blocks until ctx is cancelled or Stop is called. Stop also cancels
// a pass in progress.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation pass and reports its result.
func (w *ReconciliationWorker) RunOnce(parent context.Context) string {
	ctx, cancel := context.WithTimeout(parent, w.runTimeout)
	defer cancel()

	results, err := w.svc.Run(ctx)
	if err != nil {
		if parent.Err() != nil {
			// Shutting down; not a reconciliation failure.
			return runFailed
		}
		observability.IncrementWorkerRun("reconciliation", runFailed)
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return runFailed
	}

	var imbalanced []int32
	for _, r := range results {
		if !r.Balanced {
			imbalanced = append(imbalanced, r.PoolID)
		}
	}
	if len(imbalanced) > 0 {
		observability.IncrementWorkerRun("reconciliation", runImbalanced)
		zap.L().Error("reconciliation found imbalanced fee pools", zap.Int32s("pool_ids", imbalanced))
		return runImbalanced
	}
	observability.IncrementWorkerRun("reconciliation", runSuccess)
	return runSuccess
}

// Stop signals the loop to exit and waits for it.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.done
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}
