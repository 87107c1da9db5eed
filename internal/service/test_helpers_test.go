package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/trade-settlement/internal/db"
	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to DATABASE_URL, applies the schema and empties every
// settlement table.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, db.EnsureSchema(ctx, pool))

	_, err = pool.Exec(ctx, `TRUNCATE TABLE settlement_jobs, revenue_ledger_events, revenue_ledger,
		fee_pool_transactions, fee_pools, audit_log RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("Failed to truncate settlement tables: %v", err)
	}
	return pool
}

func standardAllocations() []domain.PoolAllocation {
	return []domain.PoolAllocation{
		{ID: 1, Name: "liquidity_rewards", Percentage: decimal.NewFromInt(40)},
		{ID: 2, Name: "insurance_fund", Percentage: decimal.NewFromInt(30)},
		{ID: 3, Name: "development", Percentage: decimal.NewFromInt(20)},
		{ID: 4, Name: "community", Percentage: decimal.NewFromInt(10)},
	}
}

func provisionStandardPools(t *testing.T, store *repository.Store) *FeePoolService {
	t.Helper()
	svc := NewFeePoolService(store, 8)
	require.NoError(t, svc.ProvisionPools(context.Background(), standardAllocations()))
	return svc
}

func testTrade(id string, amount, fee string) domain.Trade {
	return domain.Trade{
		TradeID:   id,
		UserID:    "user-1",
		Stream:    "BTC-USD",
		Amount:    decimal.RequireFromString(amount),
		FeeAmount: decimal.RequireFromString(fee),
		Currency:  "USD",
		Timestamp: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
