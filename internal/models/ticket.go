package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment type of a ticket. Store-credit tickets keep the original
// cuenta corriente naming on the wire.
const (
	PaymentCash        = "contado"
	PaymentStoreCredit = "cuenta_corriente"
)

// Ticket is a completed sale. The ledger treats it as an immutable
// fact: Total is the amount owed and Deposit (entrega) the cash already
// settled at sale time. AccountID is set once, when the ticket is sold
// on credit or later associated to an account.
type Ticket struct {
	ID          int64           `json:"id" db:"id"`
	Items       string          `json:"items" db:"items"` // JSON product lines, opaque to the ledger
	Discount    decimal.Decimal `json:"discount" db:"discount"`
	Total       decimal.Decimal `json:"total" db:"total"`
	Received    decimal.Decimal `json:"received" db:"received"`
	Change      decimal.Decimal `json:"change" db:"change"`
	Deposit     decimal.Decimal `json:"deposit" db:"deposit"`
	PaymentType string          `json:"payment_type" db:"payment_type"`
	AccountID   *int64          `json:"account_id,omitempty" db:"account_id"`
	SellerID    *int64          `json:"seller_id,omitempty" db:"seller_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Outstanding is the part of the ticket charged to the account: the
// total net of any cash deposit taken at sale time.
func (t *Ticket) Outstanding() decimal.Decimal {
	return t.Total.Sub(t.Deposit)
}
