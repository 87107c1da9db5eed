package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementNotification is published to downstream consumers once a
// settlement's notify job runs.
type SettlementNotification struct {
	EventID       string          `json:"event_id"`
	TradeID       string          `json:"trade_id"`
	CorrelationID string          `json:"correlation_id"`
	UserID        string          `json:"user_id"`
	Stream        string          `json:"stream"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	SettledAt     time.Time       `json:"settled_at"`
}

// NotificationFromPayload builds the message for a notify job.
func NotificationFromPayload(p SettlementPayload, settledAt time.Time) SettlementNotification {
	return SettlementNotification{
		EventID:       p.EventID,
		TradeID:       p.TradeID,
		CorrelationID: p.CorrelationID,
		UserID:        p.UserID,
		Stream:        p.Stream,
		Currency:      p.Currency,
		Amount:        p.Amount,
		FeeAmount:     p.FeeAmount,
		SettledAt:     settledAt.UTC(),
	}
}
