package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kioscopos/backend/internal/config"
	"github.com/kioscopos/backend/internal/ledger"
	"github.com/kioscopos/backend/internal/middleware"
	"github.com/kioscopos/backend/internal/models"
	"github.com/kioscopos/backend/internal/observability"
	"github.com/kioscopos/backend/internal/observability/logger"
)

// LedgerService is the transaction coordinator for cuenta corriente
// accounts. Every balance mutation goes through Apply or ApplyTx:
// the account row is locked for the whole check-then-write window, the
// transition is computed by the ledger engine, and the balance update
// and movement row commit together or not at all.
type LedgerService struct {
	db  *sql.DB
	cfg *config.LedgerConfig
	log *zap.Logger
}

func NewLedgerService(db *sql.DB, cfg *config.LedgerConfig) *LedgerService {
	return &LedgerService{
		db:  db,
		cfg: cfg,
		log: logger.Named("ledger"),
	}
}

// Apply runs one ledger operation in its own transaction.
func (s *LedgerService) Apply(ctx context.Context, accountID int64, op ledger.Operation) (*models.Movement, *models.Account, error) {
	start := time.Now()
	movement, account, err := s.applyOnce(ctx, accountID, op)
	observability.ApplyDuration.Observe(time.Since(start).Seconds())
	observability.LedgerOperations.WithLabelValues(string(op.Kind), outcomeLabel(err)).Inc()
	return movement, account, err
}

func (s *LedgerService) applyOnce(ctx context.Context, accountID int64, op ledger.Operation) (*models.Movement, *models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	movement, account, err := s.ApplyTx(tx, accountID, op)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, translatePQError(err)
	}
	return movement, account, nil
}

// ApplyTx applies one operation inside an existing transaction, so a
// caller (ticket issuance, association) can bind its own writes to the
// same atomic unit. The returned account reflects the new balance.
func (s *LedgerService) ApplyTx(tx *sql.Tx, accountID int64, op ledger.Operation) (*models.Movement, *models.Account, error) {
	if err := s.setLockTimeout(tx); err != nil {
		return nil, nil, translatePQError(err)
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, nil, err
	}

	transition, err := ledger.ComputeTransition(account, op)
	if err != nil {
		return nil, nil, err
	}

	movement, err := s.record(tx, account, op, transition)
	if err != nil {
		return nil, nil, err
	}

	account.Balance = transition.NewBalance
	account.Version++
	return movement, account, nil
}

// AssociateTicket binds a previously unassigned ticket to an account
// and charges the ticket's outstanding amount (total net of any cash
// deposit) as a single sale movement. Ticket update and movement are
// one atomic unit: a ticket can never reference an account without a
// matching movement, or vice versa.
func (s *LedgerService) AssociateTicket(ctx context.Context, accountID, ticketID int64, description string, recordedBy *int64, idemKey string) (*models.Movement, *models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.setLockTimeout(tx); err != nil {
		return nil, nil, translatePQError(err)
	}

	// Account first, then ticket: every write path locks in this order.
	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, nil, err
	}

	ticket, err := s.lockTicket(tx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if ticket.AccountID != nil {
		return nil, nil, ledger.ErrTicketAlreadyAssociated
	}

	if description == "" {
		description = fmt.Sprintf("Venta asociada - Ticket #%d", ticketID)
	}
	op := ledger.Operation{
		Kind:           ledger.KindSale,
		Amount:         ticket.Outstanding(),
		TicketRef:      &ticketID,
		Description:    description,
		RecordedBy:     recordedBy,
		IdempotencyKey: idemKey,
	}

	transition, err := ledger.ComputeTransition(account, op)
	if err != nil {
		observability.LedgerOperations.WithLabelValues(string(op.Kind), outcomeLabel(err)).Inc()
		return nil, nil, err
	}

	res, err := tx.Exec(`
		UPDATE tickets
		SET account_id = $1, payment_type = $2
		WHERE id = $3 AND account_id IS NULL`,
		accountID, models.PaymentStoreCredit, ticketID)
	if err != nil {
		return nil, nil, translatePQError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil, ledger.ErrTicketAlreadyAssociated
	}

	movement, err := s.record(tx, account, op, transition)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, translatePQError(err)
	}

	account.Balance = transition.NewBalance
	account.Version++
	observability.LedgerOperations.WithLabelValues(string(op.Kind), outcomeLabel(nil)).Inc()
	s.log.Info("ticket associated",
		zap.Int64("account_id", accountID),
		zap.Int64("ticket_id", ticketID),
		zap.String("amount", movement.Amount.StringFixed(2)),
		zap.String("balance", account.Balance.StringFixed(2)))
	return movement, account, nil
}

// record persists one validated transition: balance update guarded by
// the version CAS, then the movement row with before/after snapshots.
func (s *LedgerService) record(tx *sql.Tx, account *models.Account, op ledger.Operation, transition ledger.Transition) (*models.Movement, error) {
	if err := s.updateAccountBalance(tx, account.ID, transition.NewBalance, account.Version); err != nil {
		return nil, err
	}

	movement := &models.Movement{
		AccountID:     account.ID,
		TicketRef:     op.TicketRef,
		Kind:          string(op.Kind),
		Amount:        transition.Amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  transition.NewBalance,
		Description:   op.Description,
		RecordedBy:    op.RecordedBy,
	}

	var idemKey sql.NullString
	if op.IdempotencyKey != "" {
		idemKey = sql.NullString{String: op.IdempotencyKey, Valid: true}
		movement.IdempotencyKey = &op.IdempotencyKey
	}

	err := tx.QueryRow(`
		INSERT INTO movements (account_id, ticket_ref, kind, amount, balance_before, balance_after, description, recorded_by, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		movement.AccountID, movement.TicketRef, movement.Kind,
		movement.Amount, movement.BalanceBefore, movement.BalanceAfter,
		movement.Description, movement.RecordedBy, idemKey).
		Scan(&movement.ID, &movement.CreatedAt)
	if err != nil {
		return nil, translatePQError(err)
	}
	return movement, nil
}

func (s *LedgerService) setLockTimeout(tx *sql.Tx) error {
	_, err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.cfg.LockTimeout.Milliseconds()))
	return err
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID int64) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, name, email, credit_enabled, credit_limit, balance, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).
		Scan(&account.ID, &account.Name, &account.Email, &account.CreditEnabled,
			&account.CreditLimit, &account.Balance, &account.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, translatePQError(err)
	}
	return &account, nil
}

func (s *LedgerService) lockTicket(tx *sql.Tx, ticketID int64) (*models.Ticket, error) {
	var ticket models.Ticket
	err := tx.QueryRow(`
		SELECT id, total, deposit, payment_type, account_id
		FROM tickets
		WHERE id = $1
		FOR UPDATE`, ticketID).
		Scan(&ticket.ID, &ticket.Total, &ticket.Deposit, &ticket.PaymentType, &ticket.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTicketNotFound
	}
	if err != nil {
		return nil, translatePQError(err)
	}
	return &ticket, nil
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, accountID int64, newBalance decimal.Decimal, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return translatePQError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// The row lock should make this impossible; a hit means a writer
		// bypassed lockAccount.
		return fmt.Errorf("optimistic lock failed for account %d", accountID)
	}
	return nil
}

// translatePQError maps storage failures onto the ledger error
// taxonomy so handlers can answer precisely.
func translatePQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03": // lock_not_available
			return ledger.ErrLockTimeout
		case "23505": // unique_violation
			switch pqErr.Constraint {
			case "idx_movements_sale_ticket":
				return ledger.ErrTicketAlreadyAssociated
			case "idx_movements_idempotency":
				return ledger.ErrDuplicateOperation
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ledger.ErrLockTimeout
	}
	return err
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeApplied
	case errors.Is(err, ledger.ErrLockTimeout):
		return observability.OutcomeLockTimeout
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrTicketNotFound),
		errors.Is(err, ledger.ErrCreditDisabled),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrNothingToSettle),
		errors.Is(err, ledger.ErrTicketAlreadyAssociated),
		errors.Is(err, ledger.ErrDuplicateOperation),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidKind):
		return observability.OutcomeRejected
	default:
		if _, ok := ledger.AsCreditLimitError(err); ok {
			return observability.OutcomeRejected
		}
		return observability.OutcomeStorageError
	}
}

// --- HTTP surface -----------------------------------------------------------

type operationRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	TicketRef   *int64          `json:"ticket_ref,omitempty"`
}

type associateRequest struct {
	TicketID    int64  `json:"ticket_id" validate:"required,gt=0"`
	Description string `json:"description"`
}

type operationResponse struct {
	Message       string           `json:"message"`
	BalanceBefore decimal.Decimal  `json:"balance_before"`
	BalanceAfter  decimal.Decimal  `json:"balance_after"`
	Movement      *models.Movement `json:"movement"`
}

// RegisterPayment handles POST /customers/{id}/payments. An
// overpayment is accepted and leaves the account in credit.
func (s *LedgerService) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, ledger.KindPayment, "Pago recibido", "Pago registrado exitosamente")
}

// RegisterPartialDelivery handles POST /customers/{id}/deliveries:
// a partial settlement that may never exceed the amount owed.
func (s *LedgerService) RegisterPartialDelivery(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, ledger.KindPartialDelivery, "Entrega parcial", "Entrega parcial registrada exitosamente")
}

func (s *LedgerService) handleOperation(w http.ResponseWriter, r *http.Request, kind ledger.Kind, defaultDescription, message string) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if req.Description == "" {
		req.Description = defaultDescription
	}

	movement, account, err := s.Apply(r.Context(), accountID, ledger.Operation{
		Kind:           kind,
		Amount:         req.Amount,
		TicketRef:      req.TicketRef,
		Description:    req.Description,
		RecordedBy:     middleware.OperatorID(r.Context()),
		IdempotencyKey: r.Header.Get(middleware.IdempotencyKeyHeader),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Info("movement recorded",
		zap.String("kind", string(kind)),
		zap.Int64("account_id", accountID),
		zap.String("amount", movement.Amount.StringFixed(2)),
		zap.String("balance", account.Balance.StringFixed(2)))

	SendJSON(w, http.StatusOK, operationResponse{
		Message:       message,
		BalanceBefore: movement.BalanceBefore,
		BalanceAfter:  movement.BalanceAfter,
		Movement:      movement,
	})
}

// SettleAccount handles POST /customers/{id}/settle: records an
// adjustment that zeroes the balance, whatever its sign.
func (s *LedgerService) SettleAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Description string `json:"description"`
	}
	// Body is optional here.
	json.NewDecoder(r.Body).Decode(&req)
	if req.Description == "" {
		req.Description = "Saldo de cuenta"
	}

	movement, account, err := s.Apply(r.Context(), accountID, ledger.Operation{
		Kind:           ledger.KindAdjustment,
		Description:    req.Description,
		RecordedBy:     middleware.OperatorID(r.Context()),
		IdempotencyKey: r.Header.Get(middleware.IdempotencyKeyHeader),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Info("account settled",
		zap.Int64("account_id", accountID),
		zap.String("amount", movement.Amount.StringFixed(2)))

	SendJSON(w, http.StatusOK, operationResponse{
		Message:       "Cuenta corriente saldada exitosamente",
		BalanceBefore: movement.BalanceBefore,
		BalanceAfter:  account.Balance,
		Movement:      movement,
	})
}

// HandleAssociateTicket handles POST /customers/{id}/tickets.
func (s *LedgerService) HandleAssociateTicket(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var req associateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if req.TicketID <= 0 {
		SendErrorResponse(w, "ticket_id is required", http.StatusBadRequest, nil)
		return
	}

	movement, account, err := s.AssociateTicket(r.Context(), accountID, req.TicketID, req.Description,
		middleware.OperatorID(r.Context()), r.Header.Get(middleware.IdempotencyKeyHeader))
	if err != nil {
		s.writeError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Ticket asociado exitosamente",
		"ticket_id":   req.TicketID,
		"amount":      movement.Amount,
		"new_balance": account.Balance,
		"movement":    movement,
	})
}

func (s *LedgerService) writeError(w http.ResponseWriter, err error) {
	if cle, ok := ledger.AsCreditLimitError(err); ok {
		SendJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":            "Sale exceeds the customer's credit limit",
			"credit_limit":     cle.Limit,
			"available_credit": cle.Available,
		})
		return
	}

	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		SendErrorResponse(w, "Customer not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrTicketNotFound):
		SendErrorResponse(w, "Ticket not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrCreditDisabled):
		SendErrorResponse(w, "Customer does not operate on store credit", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		SendErrorResponse(w, "Delivery amount exceeds the current balance", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrNothingToSettle):
		SendErrorResponse(w, "Account balance is already settled", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrInvalidAmount):
		SendErrorResponse(w, "Amount must be greater than zero", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrTicketAlreadyAssociated):
		SendErrorResponse(w, "Ticket is already associated to an account", http.StatusConflict, nil)
	case errors.Is(err, ledger.ErrDuplicateOperation):
		SendErrorResponse(w, "Operation was already applied", http.StatusConflict, nil)
	case errors.Is(err, ledger.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		SendErrorResponse(w, "Account is busy, retry the operation", http.StatusServiceUnavailable, nil)
	default:
		s.log.Error("ledger operation failed", zap.Error(err))
		SendErrorResponse(w, "Failed to apply ledger operation", http.StatusInternalServerError, nil)
	}
}
