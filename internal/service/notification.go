package service

import (
	"context"
	"time"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/models"
)

// Publisher delivers settlement notifications to an external sink.
// Consumers deduplicate on EventID, so republishing is safe.
type Publisher interface {
	Publish(ctx context.Context, msg domain.SettlementNotification) error
}

// NotificationService handles notify jobs.
type NotificationService struct {
	publisher Publisher
	now       func() time.Time
}

func NewNotificationService(publisher Publisher) *NotificationService {
	return &NotificationService{publisher: publisher, now: time.Now}
}

func (s *NotificationService) Handle(ctx context.Context, _ models.SettlementJob, payload domain.SettlementPayload) error {
	return s.publisher.Publish(ctx, domain.NotificationFromPayload(payload, s.now()))
}
