package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is a finalized execution handed over by the matching engine.
// It is treated as immutable once passed to the dispatcher.
type Trade struct {
	TradeID   string
	UserID    string
	Stream    string
	Amount    decimal.Decimal
	FeeAmount decimal.Decimal
	Currency  string
	Timestamp time.Time
}

// Validate checks the fields every settlement job depends on.
func (t Trade) Validate() error {
	switch {
	case strings.TrimSpace(t.TradeID) == "":
		return fmt.Errorf("%w: trade_id is required", ErrInvalidTrade)
	case strings.TrimSpace(t.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidTrade)
	case strings.TrimSpace(t.Stream) == "":
		return fmt.Errorf("%w: stream is required", ErrInvalidTrade)
	case strings.TrimSpace(t.Currency) == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidTrade)
	case t.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidTrade)
	case t.Amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidTrade)
	case t.FeeAmount.IsNegative():
		return fmt.Errorf("%w: fee_amount must not be negative", ErrInvalidTrade)
	case t.FeeAmount.GreaterThan(t.Amount):
		return fmt.Errorf("%w: fee_amount exceeds amount", ErrInvalidTrade)
	}
	return nil
}

// Period returns the ledger period the trade accrues into.
func (t Trade) Period() string {
	return t.Timestamp.UTC().Format(PeriodLayout)
}

// SettlementPayload is the self-contained snapshot stored on every job.
// Handlers never re-read the trade.
type SettlementPayload struct {
	TradeID        string          `json:"trade_id"`
	CorrelationID  string          `json:"correlation_id"`
	EventID        string          `json:"event_id"`
	UserID         string          `json:"user_id"`
	Stream         string          `json:"stream"`
	Period         string          `json:"period"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	GrossDelta     decimal.Decimal `json:"gross_delta"`
	NetDelta       decimal.Decimal `json:"net_delta"`
	TradeTimestamp time.Time       `json:"trade_timestamp"`
}

// LedgerKey returns the revenue ledger key this payload accrues into.
func (p SettlementPayload) LedgerKey() LedgerKey {
	return LedgerKey{UserID: p.UserID, Stream: p.Stream, Period: p.Period, Currency: p.Currency}
}

// PlannedJob is one unit of settlement work derived from a trade.
type PlannedJob struct {
	JobType string
	Payload SettlementPayload
}

// PlanSettlement expands a trade into the jobs required to settle it.
// A fee distribution job is only planned when the trade carries a fee.
func PlanSettlement(trade Trade, correlationID uuid.UUID) ([]PlannedJob, error) {
	if err := trade.Validate(); err != nil {
		return nil, err
	}

	base := SettlementPayload{
		TradeID:        trade.TradeID,
		CorrelationID:  correlationID.String(),
		UserID:         trade.UserID,
		Stream:         trade.Stream,
		Period:         trade.Period(),
		Currency:       trade.Currency,
		Amount:         trade.Amount,
		FeeAmount:      trade.FeeAmount,
		GrossDelta:     trade.Amount,
		NetDelta:       trade.Amount.Sub(trade.FeeAmount),
		TradeTimestamp: trade.Timestamp.UTC(),
	}

	jobTypes := []string{JobTypeLedgerUpdate}
	if trade.FeeAmount.IsPositive() {
		jobTypes = append(jobTypes, JobTypeFeeDistribution)
	}
	jobTypes = append(jobTypes, JobTypeNotify)

	planned := make([]PlannedJob, 0, len(jobTypes))
	for _, jobType := range jobTypes {
		payload := base
		payload.EventID = EventID(trade.TradeID, jobType)
		planned = append(planned, PlannedJob{JobType: jobType, Payload: payload})
	}
	return planned, nil
}

// EventID is the idempotency key a job applies under.
func EventID(tradeID, jobType string) string {
	return tradeID + ":" + jobType
}

// DecodePayload parses a job payload and checks the fields shared by all handlers.
func DecodePayload(raw []byte) (SettlementPayload, error) {
	var p SettlementPayload
	if len(raw) == 0 {
		return p, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.TradeID == "" || p.EventID == "" {
		return p, fmt.Errorf("%w: trade_id and event_id are required", ErrInvalidPayload)
	}
	return p, nil
}
