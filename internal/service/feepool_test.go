package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistribute_SplitsByAllocation(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	svc := provisionStandardPools(t, repository.NewStore(pool))

	result, err := svc.Distribute(ctx, dec("1.00"), domain.SourceTypeTrade, "trade-1")
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	require.Len(t, result.Transactions, 4)

	pools, err := svc.GetPoolBalances(ctx)
	require.NoError(t, err)
	want := map[string]string{
		"liquidity_rewards": "0.40",
		"insurance_fund":    "0.30",
		"development":       "0.20",
		"community":         "0.10",
	}
	for _, p := range pools {
		assert.True(t, p.AvailableBalance.Equal(dec(want[p.Name])), "%s balance %s", p.Name, p.AvailableBalance)
		assert.True(t, p.TotalCollected.Equal(dec(want[p.Name])))
		assert.True(t, p.TotalDistributed.IsZero())
	}
}

func TestDistribute_SameSourceTwiceIsNoop(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	svc := provisionStandardPools(t, repository.NewStore(pool))

	_, err := svc.Distribute(ctx, dec("5"), domain.SourceTypeTrade, "trade-1")
	require.NoError(t, err)

	result, err := svc.Distribute(ctx, dec("5"), domain.SourceTypeTrade, "trade-1")
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Empty(t, result.Transactions)

	pools, err := svc.GetPoolBalances(ctx)
	require.NoError(t, err)
	total := decimal.Zero
	for _, p := range pools {
		total = total.Add(p.TotalCollected)
	}
	assert.True(t, total.Equal(dec("5")), "total=%s", total)
}

func TestDistribute_ConservesTotals(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	svc := provisionStandardPools(t, repository.NewStore(pool))

	fees := []string{"0.01", "0.00000003", "1234.56789", "7", "0.33333333", "99.99999999"}
	expected := decimal.Zero
	for i, fee := range fees {
		result, err := svc.Distribute(ctx, dec(fee), domain.SourceTypeTrade, fmt.Sprintf("trade-%d", i))
		require.NoError(t, err)

		sum := decimal.Zero
		for _, tx := range result.Transactions {
			sum = sum.Add(tx.Amount)
		}
		assert.True(t, sum.Equal(dec(fee)), "fee %s split into %s", fee, sum)
		expected = expected.Add(dec(fee))
	}

	pools, err := svc.GetPoolBalances(ctx)
	require.NoError(t, err)
	collected := decimal.Zero
	for _, p := range pools {
		collected = collected.Add(p.TotalCollected)
		result, err := svc.VerifyPool(ctx, p.ID)
		assert.NoError(t, err)
		assert.True(t, result.Balanced, p.Name)
	}
	assert.True(t, collected.Equal(expected), "collected=%s expected=%s", collected, expected)
}

func TestWithdraw_InsufficientBalanceLeavesPoolUnchanged(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	svc := provisionStandardPools(t, repository.NewStore(pool))

	_, err := svc.Distribute(ctx, dec("10"), domain.SourceTypeTrade, "trade-1")
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, PoolMovementRequest{
		PoolID:     4,
		Amount:     dec("1.01"),
		SourceType: "payout",
		SourceID:   "payout-1",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	txs, err := svc.GetPoolTransactions(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	rec, err := svc.Withdraw(ctx, PoolMovementRequest{
		PoolID:      4,
		Amount:      dec("0.25"),
		SourceType:  "payout",
		SourceID:    "payout-2",
		Description: "community grant",
	})
	require.NoError(t, err)
	assert.True(t, rec.BalanceBefore.Equal(dec("1")))
	assert.True(t, rec.BalanceAfter.Equal(dec("0.75")))

	pools, err := svc.GetPoolBalances(ctx)
	require.NoError(t, err)
	community := pools[3]
	assert.True(t, community.AvailableBalance.Equal(dec("0.75")))
	assert.True(t, community.TotalDistributed.Equal(dec("0.25")))

	result, err := svc.VerifyPool(ctx, community.ID)
	require.NoError(t, err)
	assert.True(t, result.Replayed.Equal(dec("0.75")))
}

func TestAdjust_CreditsPool(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	svc := provisionStandardPools(t, repository.NewStore(pool))

	rec, err := svc.Adjust(ctx, PoolMovementRequest{PoolID: 2, Amount: dec("3"), SourceType: "manual", SourceID: "adj-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.PoolTxAdjustment, rec.TransactionType)
	assert.True(t, rec.BalanceAfter.Equal(dec("3")))

	_, err = svc.Adjust(ctx, PoolMovementRequest{PoolID: 99, Amount: dec("3"), SourceType: "manual", SourceID: "adj-2"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Adjust(ctx, PoolMovementRequest{PoolID: 2, Amount: dec("0"), SourceType: "manual", SourceID: "adj-3"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestProvisionPools_RejectsChangedAllocation(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	svc := provisionStandardPools(t, repository.NewStore(pool))

	require.NoError(t, svc.ProvisionPools(ctx, standardAllocations()))

	changed := standardAllocations()
	changed[0].Percentage = dec("35")
	changed[1].Percentage = dec("35")
	err := svc.ProvisionPools(ctx, changed)
	assert.ErrorIs(t, err, domain.ErrInvalidAllocation)

	bad := standardAllocations()[:3]
	err = svc.ProvisionPools(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidAllocation)
}

func TestConcurrentMovements_ReplayMatchesBalances(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	svc := provisionStandardPools(t, repository.NewStore(pool))

	_, err := svc.Distribute(ctx, dec("10"), domain.SourceTypeTrade, "seed")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			switch i % 3 {
			case 0:
				_, err = svc.Distribute(ctx, dec("1"), domain.SourceTypeTrade, fmt.Sprintf("trade-%d", i))
			case 1:
				_, err = svc.Withdraw(ctx, PoolMovementRequest{PoolID: 1, Amount: dec("0.1"), SourceType: "payout", SourceID: fmt.Sprintf("payout-%d", i)})
			default:
				_, err = svc.Adjust(ctx, PoolMovementRequest{PoolID: 1, Amount: dec("0.05"), SourceType: "manual", SourceID: fmt.Sprintf("adj-%d", i)})
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	pools, err := svc.GetPoolBalances(ctx)
	require.NoError(t, err)
	for _, p := range pools {
		result, err := svc.VerifyPool(ctx, p.ID)
		require.NoError(t, err, p.Name)
		assert.True(t, result.Balanced, p.Name)
	}
	// 4 + 10×0.4 collected, 10×0.1 withdrawn, 10×0.05 adjusted.
	assert.True(t, pools[0].AvailableBalance.Equal(dec("7.5")), pools[0].AvailableBalance.String())
}
