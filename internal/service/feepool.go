package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/ayo6706/trade-settlement/internal/observability"
	"github.com/ayo6706/trade-settlement/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeePoolService splits collected fees across the configured pools and keeps
// each pool's balance consistent with its transaction log.
type FeePoolService struct {
	store      QueryStore
	shareScale int32
}

func NewFeePoolService(store QueryStore, shareScale int32) *FeePoolService {
	return &FeePoolService{store: store, shareScale: shareScale}
}

// DistributionResult describes the outcome of one Distribute call.
type DistributionResult struct {
	Transactions []models.FeePoolTransaction `json:"transactions"`
	// Duplicate is set when the source was already distributed and nothing changed.
	Duplicate bool `json:"duplicate"`
}

// PoolMovementRequest describes a withdrawal or adjustment on a single pool.
type PoolMovementRequest struct {
	PoolID      int32
	Amount      decimal.Decimal
	SourceType  string
	SourceID    string
	Description string
}

func (r PoolMovementRequest) validate() error {
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	if strings.TrimSpace(r.SourceType) == "" || strings.TrimSpace(r.SourceID) == "" {
		return fmt.Errorf("%w: source type and id are required", domain.ErrInvalidPayload)
	}
	return nil
}

// ProvisionPools creates the configured pools. Existing pools must match the
// configuration; allocations cannot be changed by re-provisioning.
func (s *FeePoolService) ProvisionPools(ctx context.Context, allocs []domain.PoolAllocation) error {
	if err := domain.ValidateAllocations(allocs); err != nil {
		return err
	}
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		for _, a := range allocs {
			if _, err := qtx.InsertFeePool(ctx, a.ID, a.Name, a.Percentage.String()); err != nil {
				return fmt.Errorf("insert fee pool %q: %w", a.Name, err)
			}
			pool, err := qtx.GetFeePool(ctx, a.ID)
			if err != nil {
				return fmt.Errorf("load fee pool %q: %w", a.Name, err)
			}
			if pool.Name != a.Name || !pool.AllocationPercentage.Equal(a.Percentage) {
				return fmt.Errorf("%w: pool %d is %s at %s%%, configured as %s at %s%%",
					domain.ErrInvalidAllocation, a.ID, pool.Name, pool.AllocationPercentage.String(), a.Name, a.Percentage.String())
			}
		}
		return nil
	})
}

// Distribute credits total to the active pools by allocation percentage.
// A source is distributed at most once; repeating it is a no-op.
func (s *FeePoolService) Distribute(ctx context.Context, total decimal.Decimal, sourceType, sourceID string) (DistributionResult, error) {
	if total.IsNegative() {
		return DistributionResult{}, fmt.Errorf("%w: fee total must not be negative", domain.ErrInvalidAmount)
	}
	if strings.TrimSpace(sourceType) == "" || strings.TrimSpace(sourceID) == "" {
		return DistributionResult{}, fmt.Errorf("%w: source type and id are required", domain.ErrInvalidPayload)
	}

	var result DistributionResult
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		pools, err := qtx.ListActiveFeePoolsForUpdate(ctx)
		if err != nil {
			return fmt.Errorf("lock fee pools: %w", err)
		}

		seen, err := qtx.CountCollectionsBySource(ctx, sourceType, sourceID)
		if err != nil {
			return fmt.Errorf("check prior distribution: %w", err)
		}
		if seen > 0 {
			result.Duplicate = true
			return nil
		}

		shares, err := domain.SplitFee(total, pools, s.shareScale)
		if err != nil {
			return err
		}
		byID := make(map[int32]models.FeePool, len(pools))
		for _, p := range pools {
			byID[p.ID] = p
		}

		result.Transactions = make([]models.FeePoolTransaction, 0, len(shares))
		for _, share := range shares {
			pool := byID[share.PoolID]
			next, rec, err := domain.ApplyPoolMovement(pool, domain.PoolTxCollection, share.Amount)
			if err != nil {
				return err
			}
			rec.SourceType = sourceType
			rec.SourceID = sourceID
			rec.Description = fmt.Sprintf("%s%% of %s fee %s", pool.AllocationPercentage.String(), sourceType, sourceID)
			if err := s.persistMovement(ctx, qtx, next, &rec); err != nil {
				return err
			}
			result.Transactions = append(result.Transactions, rec)
		}
		return nil
	})
	if err != nil {
		return DistributionResult{}, err
	}

	if result.Duplicate {
		observability.IncrementFeeDistribution("duplicate")
		zap.L().Info("fee distribution already applied",
			zap.String("source_type", sourceType),
			zap.String("source_id", sourceID),
		)
	} else {
		observability.IncrementFeeDistribution("applied")
	}
	return result, nil
}

// Withdraw pays out from a pool. It fails with domain.ErrInsufficientBalance,
// leaving the pool untouched, when the amount exceeds the available balance.
func (s *FeePoolService) Withdraw(ctx context.Context, req PoolMovementRequest) (models.FeePoolTransaction, error) {
	return s.move(ctx, domain.PoolTxDistribution, req)
}

// Adjust credits a pool outside of trade fee collection.
func (s *FeePoolService) Adjust(ctx context.Context, req PoolMovementRequest) (models.FeePoolTransaction, error) {
	return s.move(ctx, domain.PoolTxAdjustment, req)
}

func (s *FeePoolService) move(ctx context.Context, txType string, req PoolMovementRequest) (models.FeePoolTransaction, error) {
	if err := req.validate(); err != nil {
		return models.FeePoolTransaction{}, err
	}

	var rec models.FeePoolTransaction
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		pool, err := qtx.GetFeePoolForUpdate(ctx, req.PoolID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("fee pool %d: %w", req.PoolID, domain.ErrNotFound)
			}
			return fmt.Errorf("lock fee pool: %w", err)
		}

		next, movement, err := domain.ApplyPoolMovement(pool, txType, req.Amount)
		if err != nil {
			return err
		}
		movement.SourceType = req.SourceType
		movement.SourceID = req.SourceID
		movement.Description = req.Description
		if err := s.persistMovement(ctx, qtx, next, &movement); err != nil {
			return err
		}
		rec = movement
		return nil
	})
	if err != nil {
		return models.FeePoolTransaction{}, err
	}

	zap.L().Info("fee pool movement recorded",
		zap.Int32("pool_id", req.PoolID),
		zap.String("type", txType),
		zap.String("amount", req.Amount.String()),
		zap.String("balance_after", rec.BalanceAfter.String()),
	)
	return rec, nil
}

func (s *FeePoolService) persistMovement(ctx context.Context, qtx *repository.Queries, pool models.FeePool, rec *models.FeePoolTransaction) error {
	if err := qtx.InsertFeePoolTransaction(ctx, rec); err != nil {
		return fmt.Errorf("insert fee pool transaction: %w", err)
	}
	rows, err := qtx.UpdateFeePoolBalances(ctx, pool)
	if err != nil {
		return fmt.Errorf("update fee pool balances: %w", err)
	}
	return requireExactlyOne(rows, "update fee pool balances")
}

// GetPoolBalances returns every pool ordered by id.
func (s *FeePoolService) GetPoolBalances(ctx context.Context) ([]models.FeePool, error) {
	pools, err := s.store.Queries().ListFeePools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fee pools: %w", err)
	}
	return pools, nil
}

// GetPoolTransactions returns a pool's transaction log in creation order.
func (s *FeePoolService) GetPoolTransactions(ctx context.Context, poolID int32) ([]models.FeePoolTransaction, error) {
	if _, err := s.store.Queries().GetFeePool(ctx, poolID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load fee pool: %w", err)
	}
	txs, err := s.store.Queries().ListFeePoolTransactions(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("list fee pool transactions: %w", err)
	}
	return txs, nil
}

// VerifyPool replays the pool's log and compares the result with the cached
// balances. The pool row is locked while both are read, so a movement
// committing in between cannot make them disagree. A mismatch is reported as
// an unbalanced result together with an error wrapping domain.ErrPoolInvariant.
func (s *FeePoolService) VerifyPool(ctx context.Context, poolID int32) (PoolReconciliation, error) {
	var (
		result    PoolReconciliation
		verifyErr error
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		pool, err := qtx.GetFeePoolForUpdate(ctx, poolID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("fee pool %d: %w", poolID, domain.ErrNotFound)
			}
			return fmt.Errorf("lock fee pool: %w", err)
		}
		txs, err := qtx.ListFeePoolTransactions(ctx, poolID)
		if err != nil {
			return fmt.Errorf("list fee pool transactions: %w", err)
		}

		result = PoolReconciliation{PoolID: pool.ID, Name: pool.Name, Cached: pool.AvailableBalance}
		result.Replayed, verifyErr = domain.ReplayBalance(txs)
		switch {
		case verifyErr != nil:
		case !result.Replayed.Equal(pool.AvailableBalance):
			verifyErr = fmt.Errorf("%w: pool %d cached %s, replayed %s",
				domain.ErrPoolInvariant, pool.ID, pool.AvailableBalance.String(), result.Replayed.String())
		default:
			verifyErr = domain.CheckPoolInvariant(pool)
		}
		return nil
	})
	if err != nil {
		return PoolReconciliation{}, err
	}
	result.Balanced = verifyErr == nil
	return result, verifyErr
}

// Handle applies a fee_distribution job.
func (s *FeePoolService) Handle(ctx context.Context, _ models.SettlementJob, payload domain.SettlementPayload) error {
	_, err := s.Distribute(ctx, payload.FeeAmount, domain.SourceTypeTrade, payload.TradeID)
	return err
}
