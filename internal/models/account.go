package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a customer's store-credit record (cuenta corriente).
// Balance is mutated only through the ledger service; a credit_limit of
// zero means no explicit limit is enforced.
type Account struct {
	ID            int64           `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Email         string          `json:"email" db:"email"`
	Phone         string          `json:"phone,omitempty" db:"phone"`
	Address       string          `json:"address,omitempty" db:"address"`
	CreditEnabled bool            `json:"credit_enabled" db:"credit_enabled"`
	CreditLimit   decimal.Decimal `json:"credit_limit" db:"credit_limit"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	Version       int             `json:"-" db:"version"` // for optimistic locking
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// AvailableCredit returns credit_limit - balance, or nil when the
// account has no explicit limit.
func (a *Account) AvailableCredit() *decimal.Decimal {
	if a.CreditLimit.IsZero() {
		return nil
	}
	avail := a.CreditLimit.Sub(a.Balance)
	if avail.IsNegative() {
		avail = decimal.Zero
	}
	return &avail
}
