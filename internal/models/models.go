package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SettlementJob struct {
	ID            uuid.UUID       `json:"id"`
	TradeID       string          `json:"trade_id"`
	JobType       string          `json:"job_type"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Status        string          `json:"status"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int32           `json:"attempts"`
	MaxAttempts   int32           `json:"max_attempts"`
	Error         *string         `json:"error,omitempty"`
	ScheduledFor  time.Time       `json:"scheduled_for"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	ClaimedBy     *string         `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"`
	ClaimToken    *uuid.UUID      `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RevenueLedgerEntry is keyed by (UserID, Stream, Period, Currency).
type RevenueLedgerEntry struct {
	UserID      string          `json:"user_id"`
	Stream      string          `json:"stream"`
	Period      string          `json:"period"`
	Currency    string          `json:"currency"`
	Gross       decimal.Decimal `json:"gross"`
	Net         decimal.Decimal `json:"net"`
	LastEventID string          `json:"last_event_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type FeePool struct {
	ID                   int32           `json:"id"`
	Name                 string          `json:"name"`
	AllocationPercentage decimal.Decimal `json:"allocation_percentage"`
	Active               bool            `json:"active"`
	TotalCollected       decimal.Decimal `json:"total_collected"`
	TotalDistributed     decimal.Decimal `json:"total_distributed"`
	AvailableBalance     decimal.Decimal `json:"available_balance"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type FeePoolTransaction struct {
	ID              int64           `json:"id"`
	PoolID          int32           `json:"pool_id"`
	TransactionType string          `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	SourceType      string          `json:"source_type"`
	SourceID        string          `json:"source_id"`
	Description     string          `json:"description"`
	CreatedAt       time.Time       `json:"created_at"`
}

type JobStatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}
