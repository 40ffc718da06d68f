package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioscopos/backend/internal/config"
	"github.com/kioscopos/backend/internal/ledger"
	"github.com/kioscopos/backend/internal/models"
)

func testLedgerConfig() *config.LedgerConfig {
	return &config.LedgerConfig{
		LockTimeout:       3 * time.Second,
		DefaultQueryLimit: 10,
		MaxQueryLimit:     100,
	}
}

func accountRow(id int64, creditEnabled bool, limit, balance string, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "email", "credit_enabled", "credit_limit", "balance", "version"}).
		AddRow(id, "Maria Lopez", "maria@example.com", creditEnabled, limit, balance, version)
}

func movementReturn(id int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id, time.Now())
}

func TestLedgerService_Apply_Payment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs(int64(7)).
		WillReturnRows(accountRow(7, true, "0", "500.00", 3))
	mock.ExpectExec("UPDATE accounts").
		WithArgs(decimal.NewFromInt(300), sqlmock.AnyArg(), int64(7), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO movements").
		WillReturnRows(movementReturn(41))
	mock.ExpectCommit()

	movement, account, err := svc.Apply(context.Background(), 7, ledger.Operation{
		Kind:        ledger.KindPayment,
		Amount:      decimal.NewFromInt(200),
		Description: "Pago recibido",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(41), movement.ID)
	assert.True(t, movement.BalanceBefore.Equal(decimal.NewFromInt(500)))
	assert.True(t, movement.BalanceAfter.Equal(decimal.NewFromInt(300)))
	assert.True(t, movement.SignedAmount().Equal(decimal.NewFromInt(-200)))
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, 4, account.Version)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Apply_OverpaymentLeavesCredit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(accountRow(7, true, "0", "100.00", 1))
	mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO movements").WillReturnRows(movementReturn(42))
	mock.ExpectCommit()

	movement, account, err := svc.Apply(context.Background(), 7, ledger.Operation{
		Kind:   ledger.KindPayment,
		Amount: decimal.NewFromInt(250),
	})
	require.NoError(t, err)

	assert.True(t, account.Balance.Equal(decimal.NewFromInt(-150)))
	assert.True(t, movement.BalanceAfter.IsNegative())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Apply_SaleOverCreditLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(accountRow(7, true, "1000.00", "800.00", 1))
	mock.ExpectRollback()

	_, _, err = svc.Apply(context.Background(), 7, ledger.Operation{
		Kind:   ledger.KindSale,
		Amount: decimal.NewFromInt(300),
	})
	require.Error(t, err)

	cle, ok := ledger.AsCreditLimitError(err)
	require.True(t, ok)
	assert.True(t, cle.Available.Equal(decimal.NewFromInt(200)))
	assert.True(t, cle.Limit.Equal(decimal.NewFromInt(1000)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Apply_DeliveryExceedsBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(accountRow(7, true, "0", "500.00", 1))
	mock.ExpectRollback()

	_, _, err = svc.Apply(context.Background(), 7, ledger.Operation{
		Kind:   ledger.KindPartialDelivery,
		Amount: decimal.NewFromInt(600),
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Apply_SettleNegativeBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(accountRow(9, false, "0", "-150.00", 2))
	mock.ExpectExec("UPDATE accounts").
		WithArgs(decimal.Zero, sqlmock.AnyArg(), int64(9), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO movements").WillReturnRows(movementReturn(55))
	mock.ExpectCommit()

	movement, account, err := svc.Apply(context.Background(), 9, ledger.Operation{
		Kind:        ledger.KindAdjustment,
		Description: "Saldo de cuenta",
	})
	require.NoError(t, err)

	assert.True(t, account.Balance.IsZero())
	assert.True(t, movement.Amount.Equal(decimal.NewFromInt(150)))
	assert.True(t, movement.SignedAmount().Equal(decimal.NewFromInt(150)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Apply_SettleZeroBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(accountRow(9, true, "0", "0", 2))
	mock.ExpectRollback()

	_, _, err = svc.Apply(context.Background(), 9, ledger.Operation{Kind: ledger.KindAdjustment})
	assert.ErrorIs(t, err, ledger.ErrNothingToSettle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Apply_AccountNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "credit_enabled", "credit_limit", "balance", "version"}))
	mock.ExpectRollback()

	_, _, err = svc.Apply(context.Background(), 99, ledger.Operation{
		Kind:   ledger.KindPayment,
		Amount: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Apply_LockTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	_, _, err = svc.Apply(context.Background(), 7, ledger.Operation{
		Kind:   ledger.KindPayment,
		Amount: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Apply_DuplicateIdempotencyKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(accountRow(7, true, "0", "500.00", 1))
	mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO movements").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_movements_idempotency"})
	mock.ExpectRollback()

	_, _, err = svc.Apply(context.Background(), 7, ledger.Operation{
		Kind:           ledger.KindPayment,
		Amount:         decimal.NewFromInt(50),
		IdempotencyKey: "pos-1-op-abc",
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateOperation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_Apply_OptimisticLockFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(accountRow(7, true, "0", "500.00", 1))
	mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err = svc.Apply(context.Background(), 7, ledger.Operation{
		Kind:   ledger.KindPayment,
		Amount: decimal.NewFromInt(50),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optimistic lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_AssociateTicket(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs(int64(7)).
		WillReturnRows(accountRow(7, true, "0", "0", 1))
	mock.ExpectQuery("SELECT (.+) FROM tickets").
		WithArgs(int64(120)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "total", "deposit", "payment_type", "account_id"}).
			AddRow(120, "2810.00", "1000.00", models.PaymentCash, nil))
	mock.ExpectExec("UPDATE tickets").
		WithArgs(int64(7), models.PaymentStoreCredit, int64(120)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO movements").WillReturnRows(movementReturn(61))
	mock.ExpectCommit()

	movement, account, err := svc.AssociateTicket(context.Background(), 7, 120, "", nil, "")
	require.NoError(t, err)

	// The charge is the outstanding amount: total net of the cash deposit.
	assert.True(t, movement.Amount.Equal(decimal.NewFromInt(1810)))
	assert.Equal(t, "sale", movement.Kind)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(1810)))
	assert.Equal(t, "Venta asociada - Ticket #120", movement.Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_AssociateTicket_AlreadyAssociated(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(accountRow(7, true, "0", "0", 1))
	mock.ExpectQuery("SELECT (.+) FROM tickets").
		WillReturnRows(sqlmock.NewRows([]string{"id", "total", "deposit", "payment_type", "account_id"}).
			AddRow(120, "2810.00", "0", models.PaymentStoreCredit, int64(3)))
	mock.ExpectRollback()

	_, _, err = svc.AssociateTicket(context.Background(), 7, 120, "", nil, "")
	assert.ErrorIs(t, err, ledger.ErrTicketAlreadyAssociated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_AssociateTicket_RaceOnTicketUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(accountRow(7, true, "0", "0", 1))
	mock.ExpectQuery("SELECT (.+) FROM tickets").
		WillReturnRows(sqlmock.NewRows([]string{"id", "total", "deposit", "payment_type", "account_id"}).
			AddRow(120, "500.00", "0", models.PaymentCash, nil))
	mock.ExpectExec("UPDATE tickets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err = svc.AssociateTicket(context.Background(), 7, 120, "", nil, "")
	assert.ErrorIs(t, err, ledger.ErrTicketAlreadyAssociated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_AssociateTicket_CreditDisabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewLedgerService(db, testLedgerConfig())

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WillReturnRows(accountRow(7, false, "0", "0", 1))
	mock.ExpectQuery("SELECT (.+) FROM tickets").
		WillReturnRows(sqlmock.NewRows([]string{"id", "total", "deposit", "payment_type", "account_id"}).
			AddRow(120, "500.00", "0", models.PaymentCash, nil))
	mock.ExpectRollback()

	_, _, err = svc.AssociateTicket(context.Background(), 7, 120, "", nil, "")
	assert.ErrorIs(t, err, ledger.ErrCreditDisabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
