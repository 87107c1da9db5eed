package domain

import (
	"fmt"
	"strings"

	"github.com/ayo6706/trade-settlement/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerKey is the natural primary key of a revenue ledger row.
type LedgerKey struct {
	UserID   string
	Stream   string
	Period   string
	Currency string
}

func (k LedgerKey) Validate() error {
	if strings.TrimSpace(k.UserID) == "" || strings.TrimSpace(k.Stream) == "" ||
		strings.TrimSpace(k.Period) == "" || strings.TrimSpace(k.Currency) == "" {
		return fmt.Errorf("%w: ledger key requires user, stream, period and currency", ErrInvalidPayload)
	}
	return nil
}

func (k LedgerKey) String() string {
	return k.UserID + "/" + k.Stream + "/" + k.Period + "/" + k.Currency
}

// EmptyLedgerEntry is the zero-valued row an accrual starts from when the key is new.
func EmptyLedgerEntry(key LedgerKey) models.RevenueLedgerEntry {
	return models.RevenueLedgerEntry{
		UserID:   key.UserID,
		Stream:   key.Stream,
		Period:   key.Period,
		Currency: key.Currency,
		Gross:    decimal.Zero,
		Net:      decimal.Zero,
	}
}

// ValidateAccrual rejects deltas that would make gross or net decrease.
func ValidateAccrual(eventID string, grossDelta, netDelta decimal.Decimal) error {
	if strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidPayload)
	}
	if grossDelta.IsNegative() || netDelta.IsNegative() {
		return fmt.Errorf("%w: accrual deltas must not be negative", ErrInvalidAmount)
	}
	return nil
}

// Accrue applies an event to a ledger row. It returns the row unchanged and
// false when eventID is the row's last applied event.
func Accrue(entry models.RevenueLedgerEntry, eventID string, grossDelta, netDelta decimal.Decimal) (models.RevenueLedgerEntry, bool) {
	if entry.LastEventID == eventID {
		return entry, false
	}
	entry.Gross = entry.Gross.Add(grossDelta)
	entry.Net = entry.Net.Add(netDelta)
	entry.LastEventID = eventID
	return entry, true
}
