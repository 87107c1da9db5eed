package repository

import (
	"context"

	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/jackc/pgx/v5"
)

const ledgerColumns = `user_id, stream, period, currency, gross::text, net::text, last_event_id, created_at, updated_at`

func scanLedgerEntry(row pgx.Row) (models.RevenueLedgerEntry, error) {
	var e models.RevenueLedgerEntry
	var gross, net string
	if err := row.Scan(&e.UserID, &e.Stream, &e.Period, &e.Currency, &gross, &net, &e.LastEventID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return e, err
	}
	var err error
	if e.Gross, err = parseNumeric("gross", gross); err != nil {
		return e, err
	}
	if e.Net, err = parseNumeric("net", net); err != nil {
		return e, err
	}
	return e, nil
}

type LedgerKeyParams struct {
	UserID   string
	Stream   string
	Period   string
	Currency string
}

const seedLedgerEntry = `
INSERT INTO revenue_ledger (user_id, stream, period, currency)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, stream, period, currency) DO NOTHING
`

// SeedLedgerEntry creates the zero row for a key so it can be locked.
func (q *Queries) SeedLedgerEntry(ctx context.Context, key LedgerKeyParams) error {
	_, err := q.db.Exec(ctx, seedLedgerEntry, key.UserID, key.Stream, key.Period, key.Currency)
	return err
}

const getLedgerEntryForUpdate = `
SELECT ` + ledgerColumns + `
FROM revenue_ledger
WHERE user_id = $1 AND stream = $2 AND period = $3 AND currency = $4
FOR UPDATE
`

func (q *Queries) GetLedgerEntryForUpdate(ctx context.Context, key LedgerKeyParams) (models.RevenueLedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRow(ctx, getLedgerEntryForUpdate, key.UserID, key.Stream, key.Period, key.Currency))
}

const getLedgerEntry = `
SELECT ` + ledgerColumns + `
FROM revenue_ledger
WHERE user_id = $1 AND stream = $2 AND period = $3 AND currency = $4
`

func (q *Queries) GetLedgerEntry(ctx context.Context, key LedgerKeyParams) (models.RevenueLedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRow(ctx, getLedgerEntry, key.UserID, key.Stream, key.Period, key.Currency))
}

const updateLedgerEntry = `
UPDATE revenue_ledger
SET gross = $5::numeric, net = $6::numeric, last_event_id = $7, updated_at = NOW()
WHERE user_id = $1 AND stream = $2 AND period = $3 AND currency = $4
`

func (q *Queries) UpdateLedgerEntry(ctx context.Context, e models.RevenueLedgerEntry) (int64, error) {
	tag, err := q.db.Exec(ctx, updateLedgerEntry, e.UserID, e.Stream, e.Period, e.Currency, e.Gross.String(), e.Net.String(), e.LastEventID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type InsertLedgerEventParams struct {
	Key        LedgerKeyParams
	EventID    string
	GrossDelta string
	NetDelta   string
}

const insertLedgerEvent = `
INSERT INTO revenue_ledger_events (user_id, stream, period, currency, event_id, gross_delta, net_delta)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)
ON CONFLICT (user_id, stream, period, currency, event_id) DO NOTHING
`

// InsertLedgerEvent records an applied accrual. Zero rows means the event was
// already applied to this key.
func (q *Queries) InsertLedgerEvent(ctx context.Context, arg InsertLedgerEventParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertLedgerEvent,
		arg.Key.UserID, arg.Key.Stream, arg.Key.Period, arg.Key.Currency, arg.EventID, arg.GrossDelta, arg.NetDelta)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
