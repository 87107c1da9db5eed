package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/jackc/pgx/v5"
)

const feePoolColumns = `id, name, allocation_percentage::text, active, total_collected::text,
	total_distributed::text, available_balance::text, created_at, updated_at`

func scanFeePool(row pgx.Row) (models.FeePool, error) {
	var p models.FeePool
	var pct, collected, distributed, available string
	if err := row.Scan(&p.ID, &p.Name, &pct, &p.Active, &collected, &distributed, &available, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	var err error
	if p.AllocationPercentage, err = parseNumeric("allocation_percentage", pct); err != nil {
		return p, err
	}
	if p.TotalCollected, err = parseNumeric("total_collected", collected); err != nil {
		return p, err
	}
	if p.TotalDistributed, err = parseNumeric("total_distributed", distributed); err != nil {
		return p, err
	}
	if p.AvailableBalance, err = parseNumeric("available_balance", available); err != nil {
		return p, err
	}
	return p, nil
}

func collectFeePools(rows pgx.Rows) ([]models.FeePool, error) {
	defer rows.Close()
	var pools []models.FeePool
	for rows.Next() {
		p, err := scanFeePool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fee pool: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

const insertFeePool = `
INSERT INTO fee_pools (id, name, allocation_percentage)
VALUES ($1, $2, $3::numeric)
ON CONFLICT (id) DO NOTHING
`

func (q *Queries) InsertFeePool(ctx context.Context, id int32, name, percentage string) (int64, error) {
	tag, err := q.db.Exec(ctx, insertFeePool, id, name, percentage)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getFeePool = `SELECT ` + feePoolColumns + ` FROM fee_pools WHERE id = $1`

func (q *Queries) GetFeePool(ctx context.Context, id int32) (models.FeePool, error) {
	return scanFeePool(q.db.QueryRow(ctx, getFeePool, id))
}

const getFeePoolForUpdate = `SELECT ` + feePoolColumns + ` FROM fee_pools WHERE id = $1 FOR UPDATE`

func (q *Queries) GetFeePoolForUpdate(ctx context.Context, id int32) (models.FeePool, error) {
	return scanFeePool(q.db.QueryRow(ctx, getFeePoolForUpdate, id))
}

const listFeePools = `SELECT ` + feePoolColumns + ` FROM fee_pools ORDER BY id`

func (q *Queries) ListFeePools(ctx context.Context) ([]models.FeePool, error) {
	rows, err := q.db.Query(ctx, listFeePools)
	if err != nil {
		return nil, err
	}
	return collectFeePools(rows)
}

const listActiveFeePoolsForUpdate = `
SELECT ` + feePoolColumns + `
FROM fee_pools
WHERE active
ORDER BY id
FOR UPDATE
`

// ListActiveFeePoolsForUpdate locks active pools in id order, the lock order
// every multi-pool writer uses.
func (q *Queries) ListActiveFeePoolsForUpdate(ctx context.Context) ([]models.FeePool, error) {
	rows, err := q.db.Query(ctx, listActiveFeePoolsForUpdate)
	if err != nil {
		return nil, err
	}
	return collectFeePools(rows)
}

const updateFeePoolBalances = `
UPDATE fee_pools
SET total_collected = $2::numeric, total_distributed = $3::numeric, available_balance = $4::numeric, updated_at = NOW()
WHERE id = $1
`

func (q *Queries) UpdateFeePoolBalances(ctx context.Context, p models.FeePool) (int64, error) {
	tag, err := q.db.Exec(ctx, updateFeePoolBalances, p.ID, p.TotalCollected.String(), p.TotalDistributed.String(), p.AvailableBalance.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const insertFeePoolTransaction = `
INSERT INTO fee_pool_transactions (pool_id, transaction_type, amount, balance_before, balance_after, source_type, source_id, description)
VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8)
RETURNING id, created_at
`

func (q *Queries) InsertFeePoolTransaction(ctx context.Context, tx *models.FeePoolTransaction) error {
	return q.db.QueryRow(ctx, insertFeePoolTransaction,
		tx.PoolID,
		tx.TransactionType,
		tx.Amount.String(),
		tx.BalanceBefore.String(),
		tx.BalanceAfter.String(),
		tx.SourceType,
		tx.SourceID,
		tx.Description,
	).Scan(&tx.ID, &tx.CreatedAt)
}

const countCollectionsBySource = `
SELECT COUNT(*) FROM fee_pool_transactions
WHERE transaction_type = 'collection' AND source_type = $1 AND source_id = $2
`

func (q *Queries) CountCollectionsBySource(ctx context.Context, sourceType, sourceID string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countCollectionsBySource, sourceType, sourceID).Scan(&n)
	return n, err
}

const listFeePoolTransactions = `
SELECT id, pool_id, transaction_type, amount::text, balance_before::text, balance_after::text,
	source_type, source_id, description, created_at
FROM fee_pool_transactions
WHERE pool_id = $1
ORDER BY id ASC
`

// ListFeePoolTransactions returns a pool's full log in id order. Ids are
// assigned while the pool row is locked, so id order is the order the
// balance moved in; created_at is the transaction start and can disagree.
func (q *Queries) ListFeePoolTransactions(ctx context.Context, poolID int32) ([]models.FeePoolTransaction, error) {
	rows, err := q.db.Query(ctx, listFeePoolTransactions, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.FeePoolTransaction
	for rows.Next() {
		var t models.FeePoolTransaction
		var amount, before, after string
		err := rows.Scan(&t.ID, &t.PoolID, &t.TransactionType, &amount, &before, &after, &t.SourceType, &t.SourceID, &t.Description, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan fee pool transaction: %w", err)
		}
		if t.Amount, err = parseNumeric("amount", amount); err != nil {
			return nil, err
		}
		if t.BalanceBefore, err = parseNumeric("balance_before", before); err != nil {
			return nil, err
		}
		if t.BalanceAfter, err = parseNumeric("balance_after", after); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
