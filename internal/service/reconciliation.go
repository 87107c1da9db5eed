package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PoolReconciliation is the result of replaying one pool's log.
type PoolReconciliation struct {
	PoolID   int32           `json:"pool_id"`
	Name     string          `json:"name"`
	Cached   decimal.Decimal `json:"cached"`
	Replayed decimal.Decimal `json:"replayed"`
	Balanced bool            `json:"balanced"`
}

// ReconciliationService verifies fee pool integrity and refreshes queue gauges.
type ReconciliationService struct {
	store QueryStore
	pools *FeePoolService
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore, pools *FeePoolService) *ReconciliationService {
	return &ReconciliationService{store: store, pools: pools}
}

// Run replays every fee pool's transaction log against its cached balance.
// Mismatches are logged and counted; they do not fail the run.
func (s *ReconciliationService) Run(ctx context.Context) ([]PoolReconciliation, error) {
	if err := s.refreshQueueGauges(ctx); err != nil {
		zap.L().Error("failed to refresh settlement job gauges", zap.Error(err))
	}

	pools, err := s.pools.GetPoolBalances(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]PoolReconciliation, 0, len(pools))
	imbalanced := 0
	for _, pool := range pools {
		result, verifyErr := s.pools.VerifyPool(ctx, pool.ID)
		if verifyErr != nil && !errors.Is(verifyErr, domain.ErrPoolInvariant) {
			return results, fmt.Errorf("verify fee pool %d: %w", pool.ID, verifyErr)
		}
		results = append(results, result)
		if !result.Balanced {
			imbalanced++
			observability.IncrementPoolImbalance(result.Name)
			zap.L().Error("CRITICAL: fee pool imbalance detected",
				zap.Error(verifyErr),
				zap.Int32("pool_id", result.PoolID),
				zap.String("pool", result.Name),
				zap.String("cached", result.Cached.String()),
				zap.String("replayed", result.Replayed.String()),
			)
		}
	}

	if imbalanced == 0 {
		zap.L().Info("Fee pools balanced", zap.Int("pools", len(pools)))
	}
	return results, nil
}

func (s *ReconciliationService) refreshQueueGauges(ctx context.Context) error {
	counts, err := s.store.Queries().CountSettlementJobsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count settlement jobs: %w", err)
	}
	byStatus := make(map[string]int64, len(counts))
	for _, c := range counts {
		byStatus[c.Status] = c.Count
	}
	for _, status := range domain.JobStatuses {
		observability.SetJobsByStatus(status, byStatus[status])
	}
	return nil
}
