package domain

import (
	"fmt"
	"sort"

	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PoolShare is the slice of one fee distribution assigned to a pool.
type PoolShare struct {
	PoolID int32
	Amount decimal.Decimal
}

// PoolAllocation is the provisioning configuration of a single pool.
type PoolAllocation struct {
	ID         int32
	Name       string
	Percentage decimal.Decimal
}

// ValidateAllocations checks that pool ids are unique and percentages sum to exactly 100.
func ValidateAllocations(allocs []PoolAllocation) error {
	if len(allocs) == 0 {
		return fmt.Errorf("%w: no pools configured", ErrInvalidAllocation)
	}
	seen := make(map[int32]struct{}, len(allocs))
	sum := decimal.Zero
	for _, a := range allocs {
		if _, ok := seen[a.ID]; ok {
			return fmt.Errorf("%w: duplicate pool id %d", ErrInvalidAllocation, a.ID)
		}
		seen[a.ID] = struct{}{}
		if !a.Percentage.IsPositive() {
			return fmt.Errorf("%w: pool %q percentage must be positive", ErrInvalidAllocation, a.Name)
		}
		sum = sum.Add(a.Percentage)
	}
	if !sum.Equal(hundred) {
		return fmt.Errorf("%w: percentages sum to %s, want 100", ErrInvalidAllocation, sum.String())
	}
	return nil
}

// SplitFee divides total across the active pools. Each share is truncated to
// scale decimal places and the residual goes to the lowest-id active pool, so
// the shares always sum to total exactly.
func SplitFee(total decimal.Decimal, pools []models.FeePool, scale int32) ([]PoolShare, error) {
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: fee total must not be negative", ErrInvalidAmount)
	}

	active := make([]models.FeePool, 0, len(pools))
	pct := decimal.Zero
	for _, p := range pools {
		if !p.Active {
			continue
		}
		active = append(active, p)
		pct = pct.Add(p.AllocationPercentage)
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: no active pools", ErrInvalidAllocation)
	}
	if !pct.Equal(hundred) {
		return nil, fmt.Errorf("%w: active percentages sum to %s, want 100", ErrInvalidAllocation, pct.String())
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	shares := make([]PoolShare, len(active))
	allocated := decimal.Zero
	for i, p := range active {
		amount := total.Mul(p.AllocationPercentage).Div(hundred).Truncate(scale)
		shares[i] = PoolShare{PoolID: p.ID, Amount: amount}
		allocated = allocated.Add(amount)
	}
	shares[0].Amount = shares[0].Amount.Add(total.Sub(allocated))
	return shares, nil
}

// ApplyPoolMovement mutates a pool's cached balances for one transaction and
// returns the log row describing it. Distributions fail with
// ErrInsufficientBalance rather than overdrawing the pool.
func ApplyPoolMovement(pool models.FeePool, txType string, amount decimal.Decimal) (models.FeePool, models.FeePoolTransaction, error) {
	if amount.IsNegative() {
		return pool, models.FeePoolTransaction{}, fmt.Errorf("%w: pool movement must not be negative", ErrInvalidAmount)
	}

	before := pool.AvailableBalance
	switch txType {
	case PoolTxCollection, PoolTxAdjustment:
		pool.TotalCollected = pool.TotalCollected.Add(amount)
		pool.AvailableBalance = before.Add(amount)
	case PoolTxDistribution:
		if amount.GreaterThan(before) {
			return pool, models.FeePoolTransaction{}, fmt.Errorf("%w: pool %d has %s, requested %s", ErrInsufficientBalance, pool.ID, before.String(), amount.String())
		}
		pool.TotalDistributed = pool.TotalDistributed.Add(amount)
		pool.AvailableBalance = before.Sub(amount)
	default:
		return pool, models.FeePoolTransaction{}, fmt.Errorf("unknown pool transaction type %q", txType)
	}

	if err := CheckPoolInvariant(pool); err != nil {
		return pool, models.FeePoolTransaction{}, err
	}

	return pool, models.FeePoolTransaction{
		PoolID:          pool.ID,
		TransactionType: txType,
		Amount:          amount,
		BalanceBefore:   before,
		BalanceAfter:    pool.AvailableBalance,
	}, nil
}

// CheckPoolInvariant verifies availableBalance == totalCollected - totalDistributed.
func CheckPoolInvariant(pool models.FeePool) error {
	want := pool.TotalCollected.Sub(pool.TotalDistributed)
	if !pool.AvailableBalance.Equal(want) {
		return fmt.Errorf("%w: pool %d available %s, collected-distributed %s", ErrPoolInvariant, pool.ID, pool.AvailableBalance.String(), want.String())
	}
	return nil
}

// ReplayBalance rebuilds a pool balance from its transaction log, which must be
// in id order. Every row must continue from the previous row's balance.
func ReplayBalance(txs []models.FeePoolTransaction) (decimal.Decimal, error) {
	balance := decimal.Zero
	for _, tx := range txs {
		if !tx.BalanceBefore.Equal(balance) {
			return balance, fmt.Errorf("%w: transaction %d starts at %s, replay is at %s", ErrPoolInvariant, tx.ID, tx.BalanceBefore.String(), balance.String())
		}
		switch tx.TransactionType {
		case PoolTxCollection, PoolTxAdjustment:
			balance = balance.Add(tx.Amount)
		case PoolTxDistribution:
			balance = balance.Sub(tx.Amount)
		default:
			return balance, fmt.Errorf("%w: transaction %d has unknown type %q", ErrPoolInvariant, tx.ID, tx.TransactionType)
		}
		if !tx.BalanceAfter.Equal(balance) {
			return balance, fmt.Errorf("%w: transaction %d ends at %s, replay is at %s", ErrPoolInvariant, tx.ID, tx.BalanceAfter.String(), balance.String())
		}
	}
	return balance, nil
}
