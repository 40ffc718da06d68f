package services

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kioscopos/backend/internal/config"
	"github.com/kioscopos/backend/internal/models"
	"github.com/kioscopos/backend/internal/observability/logger"
)

// AccountQueryService is the read side of the ledger: balances,
// movement history and statements. It never locks and never mutates;
// a reader may see a balance that a concurrent apply is about to
// change, but never a half-written movement.
type AccountQueryService struct {
	db  *sql.DB
	cfg *config.LedgerConfig
	log *zap.Logger
}

func NewAccountQueryService(db *sql.DB, cfg *config.LedgerConfig) *AccountQueryService {
	return &AccountQueryService{
		db:  db,
		cfg: cfg,
		log: logger.Named("account-query"),
	}
}

type balanceResponse struct {
	AccountID       int64            `json:"account_id"`
	Balance         decimal.Decimal  `json:"balance"`
	CreditLimit     decimal.Decimal  `json:"credit_limit"`
	AvailableCredit *decimal.Decimal `json:"available_credit,omitempty"`
}

// BalanceEnquiry handles GET /customers/{id}/balance. available_credit
// is omitted for accounts without an explicit limit.
func (qs *AccountQueryService) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	account, ok := qs.loadCreditAccount(w, r)
	if !ok {
		return
	}

	SendJSON(w, http.StatusOK, balanceResponse{
		AccountID:       account.ID,
		Balance:         account.Balance,
		CreditLimit:     account.CreditLimit,
		AvailableCredit: account.AvailableCredit(),
	})
}

// ListMovements handles GET /customers/{id}/movements?limit=&since=.
// Movements come back in descending sequence order; since restricts
// the result to movements recorded after that sequence number.
func (qs *AccountQueryService) ListMovements(w http.ResponseWriter, r *http.Request) {
	account, ok := qs.loadCreditAccount(w, r)
	if !ok {
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"), qs.cfg.DefaultQueryLimit, qs.cfg.MaxQueryLimit)
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

	movements, err := qs.fetchMovements(account.ID, since, limit)
	if err != nil {
		qs.log.Error("failed to fetch movements", zap.Int64("account_id", account.ID), zap.Error(err))
		SendErrorResponse(w, "Failed to fetch movements", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": account.ID,
		"movements":  movements,
		"count":      len(movements),
	})
}

type statementResponse struct {
	Customer struct {
		ID              int64            `json:"id"`
		Name            string           `json:"name"`
		Email           string           `json:"email"`
		Phone           string           `json:"phone,omitempty"`
		Balance         decimal.Decimal  `json:"balance"`
		CreditLimit     decimal.Decimal  `json:"credit_limit"`
		AvailableCredit *decimal.Decimal `json:"available_credit,omitempty"`
	} `json:"customer"`
	Totals struct {
		Sales    decimal.Decimal `json:"sales"`
		Payments decimal.Decimal `json:"payments"`
	} `json:"totals"`
	Movements []models.Movement `json:"movements"`
}

// Statement handles GET /customers/{id}/statement: sale and payment
// totals over the movement history plus the most recent movements,
// for reconciliation against the running balance.
func (qs *AccountQueryService) Statement(w http.ResponseWriter, r *http.Request) {
	account, ok := qs.loadCreditAccount(w, r)
	if !ok {
		return
	}

	var resp statementResponse
	resp.Customer.ID = account.ID
	resp.Customer.Name = account.Name
	resp.Customer.Email = account.Email
	resp.Customer.Phone = account.Phone
	resp.Customer.Balance = account.Balance
	resp.Customer.CreditLimit = account.CreditLimit
	resp.Customer.AvailableCredit = account.AvailableCredit()

	err := qs.db.QueryRow(`
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'sale'), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'payment'), 0)
		FROM movements
		WHERE account_id = $1`, account.ID).
		Scan(&resp.Totals.Sales, &resp.Totals.Payments)
	if err != nil {
		qs.log.Error("failed to aggregate statement", zap.Int64("account_id", account.ID), zap.Error(err))
		SendErrorResponse(w, "Failed to build statement", http.StatusInternalServerError, nil)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"), qs.cfg.DefaultQueryLimit, qs.cfg.MaxQueryLimit)
	resp.Movements, err = qs.fetchMovements(account.ID, 0, limit)
	if err != nil {
		qs.log.Error("failed to fetch statement movements", zap.Int64("account_id", account.ID), zap.Error(err))
		SendErrorResponse(w, "Failed to build statement", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, resp)
}

// PendingTickets handles GET /customers/{id}/pending-tickets: the
// account's sale movements presented as the tickets they originate
// from, used by the counter to pick what a delivery applies to.
func (qs *AccountQueryService) PendingTickets(w http.ResponseWriter, r *http.Request) {
	account, ok := qs.loadCreditAccount(w, r)
	if !ok {
		return
	}

	rows, err := qs.db.Query(`
		SELECT id, ticket_ref, amount, description, created_at
		FROM movements
		WHERE account_id = $1 AND kind = 'sale'
		ORDER BY id DESC
		LIMIT $2`, account.ID, qs.cfg.MaxQueryLimit)
	if err != nil {
		qs.log.Error("failed to fetch pending tickets", zap.Int64("account_id", account.ID), zap.Error(err))
		SendErrorResponse(w, "Failed to fetch pending tickets", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	type pendingTicket struct {
		MovementID  int64           `json:"movement_id"`
		TicketRef   *int64          `json:"ticket_ref,omitempty"`
		Total       decimal.Decimal `json:"total"`
		Description string          `json:"description,omitempty"`
		Date        string          `json:"date"`
	}

	pending := []pendingTicket{}
	for rows.Next() {
		var m models.Movement
		if err := rows.Scan(&m.ID, &m.TicketRef, &m.Amount, &m.Description, &m.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch pending tickets", http.StatusInternalServerError, nil)
			return
		}
		pending = append(pending, pendingTicket{
			MovementID:  m.ID,
			TicketRef:   m.TicketRef,
			Total:       m.Amount,
			Description: m.Description,
			Date:        m.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch pending tickets", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, pending)
}

func (qs *AccountQueryService) fetchMovements(accountID, since int64, limit int) ([]models.Movement, error) {
	rows, err := qs.db.Query(`
		SELECT id, account_id, ticket_ref, kind, amount, balance_before, balance_after, description, recorded_by, created_at
		FROM movements
		WHERE account_id = $1 AND id > $2
		ORDER BY id DESC
		LIMIT $3`, accountID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := []models.Movement{}
	for rows.Next() {
		var m models.Movement
		if err := rows.Scan(&m.ID, &m.AccountID, &m.TicketRef, &m.Kind, &m.Amount,
			&m.BalanceBefore, &m.BalanceAfter, &m.Description, &m.RecordedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// loadCreditAccount resolves {id}, fetches the account and rejects
// customers that do not operate a cuenta corriente. It answers the
// request itself on failure.
func (qs *AccountQueryService) loadCreditAccount(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return nil, false
	}

	var account models.Account
	err = qs.db.QueryRow(`
		SELECT id, name, email, phone, credit_enabled, credit_limit, balance
		FROM accounts
		WHERE id = $1`, accountID).
		Scan(&account.ID, &account.Name, &account.Email, &account.Phone,
			&account.CreditEnabled, &account.CreditLimit, &account.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Customer not found", http.StatusNotFound, nil)
		return nil, false
	}
	if err != nil {
		qs.log.Error("failed to fetch account", zap.Int64("account_id", accountID), zap.Error(err))
		SendErrorResponse(w, "Failed to fetch customer", http.StatusInternalServerError, nil)
		return nil, false
	}
	if !account.CreditEnabled {
		SendErrorResponse(w, "Customer does not operate on store credit", http.StatusBadRequest, nil)
		return nil, false
	}
	return &account, true
}
