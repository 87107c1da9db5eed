package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/repository"
	"github.com/google/uuid"
)

var jobTransitions = map[string]map[string]struct{}{
	domain.JobStatusPending: {
		domain.JobStatusProcessing: {},
	},
	domain.JobStatusProcessing: {
		domain.JobStatusCompleted: {},
		domain.JobStatusFailed:    {},
		domain.JobStatusPending:   {},
	},
	domain.JobStatusFailed: {
		domain.JobStatusPending:    {},
		domain.JobStatusDeadLetter: {},
	},
	domain.JobStatusCompleted:  {},
	domain.JobStatusDeadLetter: {},
}

func canTransitionJob(current, next string) bool {
	nextStates, ok := jobTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// recordJobTransition validates a status change and audits it. The caller has
// already applied the change with a conditional update on the same transaction.
func recordJobTransition(ctx context.Context, qtx *repository.Queries, audit *AuditService, jobID uuid.UUID, current, next, action string, metadata []byte) error {
	if !canTransitionJob(current, next) {
		return fmt.Errorf("invalid settlement job transition: %s -> %s", current, next)
	}
	return audit.Write(ctx, qtx, auditEntitySettlementJob, jobID, action, current, next, metadata)
}
