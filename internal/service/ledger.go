package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/ayo6706/trade-settlement/internal/observability"
	"github.com/ayo6706/trade-settlement/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService maintains per-user revenue accruals.
type LedgerService struct {
	store QueryStore
}

func NewLedgerService(store QueryStore) *LedgerService {
	return &LedgerService{store: store}
}

func ledgerKeyParams(key domain.LedgerKey) repository.LedgerKeyParams {
	return repository.LedgerKeyParams{
		UserID:   key.UserID,
		Stream:   key.Stream,
		Period:   key.Period,
		Currency: key.Currency,
	}
}

// ApplyAccrual adds the deltas to the entry for key exactly once per eventID.
// A repeated event leaves the entry unchanged and reports applied=false.
func (s *LedgerService) ApplyAccrual(ctx context.Context, key domain.LedgerKey, eventID string, grossDelta, netDelta decimal.Decimal) (models.RevenueLedgerEntry, bool, error) {
	if err := key.Validate(); err != nil {
		return models.RevenueLedgerEntry{}, false, err
	}
	if err := domain.ValidateAccrual(eventID, grossDelta, netDelta); err != nil {
		return models.RevenueLedgerEntry{}, false, err
	}

	params := ledgerKeyParams(key)
	var (
		entry   models.RevenueLedgerEntry
		applied bool
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := qtx.SeedLedgerEntry(ctx, params); err != nil {
			return fmt.Errorf("seed ledger entry: %w", err)
		}
		current, err := qtx.GetLedgerEntryForUpdate(ctx, params)
		if err != nil {
			return fmt.Errorf("lock ledger entry: %w", err)
		}

		next, ok := domain.Accrue(current, eventID, grossDelta, netDelta)
		if !ok {
			entry = current
			return nil
		}

		rows, err := qtx.InsertLedgerEvent(ctx, repository.InsertLedgerEventParams{
			Key:        params,
			EventID:    eventID,
			GrossDelta: grossDelta.String(),
			NetDelta:   netDelta.String(),
		})
		if err != nil {
			return fmt.Errorf("record ledger event: %w", err)
		}
		if rows == 0 {
			// Seen before, just not most recently.
			entry = current
			return nil
		}

		rows, err = qtx.UpdateLedgerEntry(ctx, next)
		if err != nil {
			return fmt.Errorf("update ledger entry: %w", err)
		}
		if err := requireExactlyOne(rows, "update ledger entry"); err != nil {
			return err
		}
		entry = next
		applied = true
		return nil
	})
	if err != nil {
		return models.RevenueLedgerEntry{}, false, err
	}

	if applied {
		observability.IncrementLedgerAccrual("applied")
	} else {
		observability.IncrementLedgerAccrual("duplicate")
		zap.L().Info("duplicate ledger event ignored",
			zap.String("ledger_key", key.String()),
			zap.String("event_id", eventID),
		)
	}
	return entry, applied, nil
}

// GetLedgerEntry returns the entry for key or domain.ErrNotFound.
func (s *LedgerService) GetLedgerEntry(ctx context.Context, key domain.LedgerKey) (models.RevenueLedgerEntry, error) {
	if err := key.Validate(); err != nil {
		return models.RevenueLedgerEntry{}, err
	}
	entry, err := s.store.Queries().GetLedgerEntry(ctx, ledgerKeyParams(key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RevenueLedgerEntry{}, domain.ErrNotFound
		}
		return models.RevenueLedgerEntry{}, fmt.Errorf("load ledger entry: %w", err)
	}
	return entry, nil
}

// Handle applies a ledger_update job.
func (s *LedgerService) Handle(ctx context.Context, _ models.SettlementJob, payload domain.SettlementPayload) error {
	_, _, err := s.ApplyAccrual(ctx, payload.LedgerKey(), payload.EventID, payload.GrossDelta, payload.NetDelta)
	return err
}
