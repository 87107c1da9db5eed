package notify

import (
	"context"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/observability"
	"go.uber.org/zap"
)

// LogPublisher writes notifications to the structured log. Used when no
// external sink is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, msg domain.SettlementNotification) error {
	p.logger.Info("settlement notification",
		zap.String("event_id", msg.EventID),
		zap.String("trade_id", msg.TradeID),
		zap.String("correlation_id", msg.CorrelationID),
		zap.String("user_id", msg.UserID),
		zap.String("amount", msg.Amount.String()),
		zap.String("fee_amount", msg.FeeAmount.String()),
	)
	observability.IncrementNotification("log", "ok")
	return nil
}
