package ledger

import "github.com/shopspring/decimal"

// Kind is the business reason for a balance change.
type Kind string

const (
	KindSale            Kind = "sale"
	KindPayment         Kind = "payment"
	KindPartialDelivery Kind = "partial_delivery"
	KindAdjustment      Kind = "adjustment"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSale, KindPayment, KindPartialDelivery, KindAdjustment:
		return true
	}
	return false
}

// Operation describes one balance-changing request. Amount is the
// positive magnitude of the event; for sales it must already be net of
// any cash deposit taken at sale time. Adjustment ignores Amount and
// settles the balance to zero.
type Operation struct {
	Kind           Kind
	Amount         decimal.Decimal
	TicketRef      *int64
	Description    string
	RecordedBy     *int64
	IdempotencyKey string
}

// Transition is a validated balance change ready to be persisted.
type Transition struct {
	NewBalance   decimal.Decimal
	SignedAmount decimal.Decimal
	// Magnitude recorded on the movement row. Usually Operation.Amount;
	// for adjustments it is |balance| at transition time.
	Amount decimal.Decimal
}
