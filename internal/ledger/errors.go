package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound: unknown account id.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTicketNotFound: unknown ticket id.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrCreditDisabled: the customer does not operate a cuenta corriente.
	ErrCreditDisabled = errors.New("account does not operate on store credit")
	// ErrInsufficientBalance: a delivery would settle more than is owed.
	ErrInsufficientBalance = errors.New("delivery amount exceeds current balance")
	// ErrNothingToSettle: settle-to-zero attempted on a zero balance.
	ErrNothingToSettle = errors.New("account balance is already settled")
	// ErrTicketAlreadyAssociated: the ticket is already bound to an account.
	ErrTicketAlreadyAssociated = errors.New("ticket is already associated to an account")
	// ErrDuplicateOperation: idempotency key was already applied.
	ErrDuplicateOperation = errors.New("operation already applied")
	// ErrLockTimeout: account lock not acquired in time; safe to retry.
	ErrLockTimeout = errors.New("timed out waiting for account lock")
	// ErrInvalidAmount: non-positive or malformed operation amount.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInvalidKind: unknown movement kind.
	ErrInvalidKind = errors.New("unknown movement kind")
)

// CreditLimitError reports a sale that would breach the credit limit,
// carrying the remaining credit so callers can surface it.
type CreditLimitError struct {
	Limit     decimal.Decimal
	Balance   decimal.Decimal
	Available decimal.Decimal
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("sale exceeds credit limit: available credit %s", e.Available.StringFixed(2))
}

// AsCreditLimitError unwraps err into a CreditLimitError, if it is one.
func AsCreditLimitError(err error) (*CreditLimitError, bool) {
	var cle *CreditLimitError
	ok := errors.As(err, &cle)
	return cle, ok
}
