// Package ledger holds the balance transition rules for cuenta
// corriente accounts. Every balance change in the system, whatever
// endpoint it enters through, is computed and validated here before
// anything is written.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/kioscopos/backend/internal/models"
)

// ComputeTransition computes and validates the balance change an
// operation would produce against the account's current state. It is
// pure: no I/O, no mutation of the account. Callers persist the
// returned transition atomically with its movement row or not at all.
//
// Rules, matching the POS behavior:
//   - sale: balance += amount. Requires store credit enabled. When the
//     account has a positive credit limit, the new balance may not
//     exceed it; the rejection carries the remaining credit.
//   - payment: balance -= amount. Overpayment is allowed and leaves a
//     negative balance (credit in the customer's favor). Requires
//     store credit enabled.
//   - partial_delivery: balance -= amount, but never below zero;
//     settling more than is owed is rejected. Requires store credit
//     enabled.
//   - adjustment: settles the balance to exactly zero, whatever its
//     sign. Rejected when there is nothing to settle. Allowed even on
//     accounts whose credit flag was later turned off.
func ComputeTransition(account *models.Account, op Operation) (Transition, error) {
	if !op.Kind.Valid() {
		return Transition{}, ErrInvalidKind
	}

	if op.Kind == KindAdjustment {
		if account.Balance.IsZero() {
			return Transition{}, ErrNothingToSettle
		}
		return Transition{
			NewBalance:   decimal.Zero,
			SignedAmount: account.Balance.Neg(),
			Amount:       account.Balance.Abs(),
		}, nil
	}

	if !op.Amount.IsPositive() {
		return Transition{}, ErrInvalidAmount
	}
	if !account.CreditEnabled {
		return Transition{}, ErrCreditDisabled
	}

	switch op.Kind {
	case KindSale:
		newBalance := account.Balance.Add(op.Amount)
		if account.CreditLimit.IsPositive() && newBalance.GreaterThan(account.CreditLimit) {
			available := account.CreditLimit.Sub(account.Balance)
			if available.IsNegative() {
				available = decimal.Zero
			}
			return Transition{}, &CreditLimitError{
				Limit:     account.CreditLimit,
				Balance:   account.Balance,
				Available: available,
			}
		}
		return Transition{NewBalance: newBalance, SignedAmount: op.Amount, Amount: op.Amount}, nil

	case KindPayment:
		return Transition{
			NewBalance:   account.Balance.Sub(op.Amount),
			SignedAmount: op.Amount.Neg(),
			Amount:       op.Amount,
		}, nil

	case KindPartialDelivery:
		if op.Amount.GreaterThan(account.Balance) {
			return Transition{}, ErrInsufficientBalance
		}
		return Transition{
			NewBalance:   account.Balance.Sub(op.Amount),
			SignedAmount: op.Amount.Neg(),
			Amount:       op.Amount,
		}, nil
	}

	return Transition{}, ErrInvalidKind
}
