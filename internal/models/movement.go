package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Movement is one immutable ledger entry. Rows are append-only: once
// committed they are never updated or deleted, corrections are recorded
// as new adjustment movements. ID doubles as the movement sequence.
type Movement struct {
	ID             int64           `json:"id" db:"id"`
	AccountID      int64           `json:"account_id" db:"account_id"`
	TicketRef      *int64          `json:"ticket_ref,omitempty" db:"ticket_ref"`
	Kind           string          `json:"kind" db:"kind"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore  decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter   decimal.Decimal `json:"balance_after" db:"balance_after"`
	Description    string          `json:"description,omitempty" db:"description"`
	RecordedBy     *int64          `json:"recorded_by,omitempty" db:"recorded_by"`
	IdempotencyKey *string         `json:"-" db:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// SignedAmount is the movement's effect on the balance. It is derived
// from the stored snapshots so it stays correct for every kind,
// including adjustments on negative balances.
func (m *Movement) SignedAmount() decimal.Decimal {
	return m.BalanceAfter.Sub(m.BalanceBefore)
}
