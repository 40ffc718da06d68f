package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kioscopos/backend/internal/ledger"
	"github.com/kioscopos/backend/internal/middleware"
	"github.com/kioscopos/backend/internal/models"
	"github.com/kioscopos/backend/internal/notifications"
	"github.com/kioscopos/backend/internal/observability/logger"
)

// TicketService issues sale tickets. A ticket paid contado is a plain
// insert; a ticket sold on cuenta corriente charges the account inside
// the same transaction, as exactly one sale movement for the total net
// of any cash deposit (entrega) taken at the counter.
type TicketService struct {
	db        *sql.DB
	ledger    *LedgerService
	notifier  *notifications.Service
	validator *ValidationHelper
	log       *zap.Logger
}

func NewTicketService(db *sql.DB, ledgerService *LedgerService, notifier *notifications.Service) *TicketService {
	return &TicketService{
		db:        db,
		ledger:    ledgerService,
		notifier:  notifier,
		validator: NewValidationHelper(),
		log:       logger.Named("tickets"),
	}
}

type createTicketRequest struct {
	Items       json.RawMessage `json:"items" validate:"required"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Received    decimal.Decimal `json:"received"`
	Change      decimal.Decimal `json:"change"`
	Deposit     decimal.Decimal `json:"deposit"`
	PaymentType string          `json:"payment_type" validate:"omitempty,oneof=contado cuenta_corriente"`
	AccountID   *int64          `json:"account_id"`
}

type createTicketResponse struct {
	Ticket   *models.Ticket   `json:"ticket"`
	Movement *models.Movement `json:"movement,omitempty"`
	Balance  *decimal.Decimal `json:"balance,omitempty"`
}

// CreateTicket handles POST /tickets.
func (ts *TicketService) CreateTicket(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createTicketRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.PaymentType == "" {
		req.PaymentType = models.PaymentCash
	}
	if !req.Total.IsPositive() {
		SendErrorResponse(w, "Ticket total must be greater than zero", http.StatusBadRequest, nil)
		return
	}
	if req.Deposit.IsNegative() || req.Deposit.GreaterThan(req.Total) {
		SendErrorResponse(w, "Deposit must be between zero and the ticket total", http.StatusBadRequest, nil)
		return
	}
	if req.PaymentType == models.PaymentStoreCredit && req.AccountID == nil {
		SendErrorResponse(w, "account_id is required for cuenta corriente tickets", http.StatusBadRequest, nil)
		return
	}

	ticket := &models.Ticket{
		Items:       string(req.Items),
		Discount:    req.Discount,
		Total:       req.Total,
		Received:    req.Received,
		Change:      req.Change,
		Deposit:     req.Deposit,
		PaymentType: req.PaymentType,
		AccountID:   req.AccountID,
		SellerID:    middleware.OperatorID(r.Context()),
	}

	movement, account, err := ts.createTicket(r, ticket)
	if err != nil {
		ts.ledger.writeError(w, err)
		return
	}

	resp := createTicketResponse{Ticket: ticket}
	if movement != nil {
		resp.Movement = movement
		resp.Balance = &account.Balance
	}

	if ts.notifier != nil {
		// Receipt delivery is best-effort and must never affect the
		// committed sale.
		go ts.notifier.NotifyTicket(ticket, account)
	}

	SendJSON(w, http.StatusCreated, resp)
}

func (ts *TicketService) createTicket(r *http.Request, ticket *models.Ticket) (*models.Movement, *models.Account, error) {
	tx, err := ts.db.BeginTx(r.Context(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin ticket transaction: %w", err)
	}
	defer tx.Rollback()

	onCredit := ticket.PaymentType == models.PaymentStoreCredit && ticket.AccountID != nil

	err = tx.QueryRow(`
		INSERT INTO tickets (items, discount, total, received, change, deposit, payment_type, account_id, seller_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		ticket.Items, ticket.Discount, ticket.Total, ticket.Received, ticket.Change,
		ticket.Deposit, ticket.PaymentType, ticket.AccountID, ticket.SellerID).
		Scan(&ticket.ID, &ticket.CreatedAt)
	if err != nil {
		return nil, nil, translatePQError(err)
	}

	var movement *models.Movement
	var account *models.Account
	if onCredit {
		op := ledger.Operation{
			Kind:           ledger.KindSale,
			Amount:         ticket.Outstanding(),
			TicketRef:      &ticket.ID,
			Description:    fmt.Sprintf("Venta - Ticket #%d", ticket.ID),
			RecordedBy:     ticket.SellerID,
			IdempotencyKey: r.Header.Get(middleware.IdempotencyKeyHeader),
		}
		movement, account, err = ts.ledger.ApplyTx(tx, *ticket.AccountID, op)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, translatePQError(err)
	}

	fields := []zap.Field{
		zap.Int64("ticket_id", ticket.ID),
		zap.String("payment_type", ticket.PaymentType),
		zap.String("total", ticket.Total.StringFixed(2)),
	}
	if movement != nil {
		fields = append(fields,
			zap.String("charged", movement.Amount.StringFixed(2)),
			zap.String("balance", account.Balance.StringFixed(2)))
	}
	ts.log.Info("ticket created", fields...)
	return movement, account, nil
}

// GetTicket handles GET /tickets/{id}.
func (ts *TicketService) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticketID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid ticket id", http.StatusBadRequest, nil)
		return
	}

	ticket, err := ts.fetchTicket(ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Ticket not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch ticket", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, http.StatusOK, ticket)
}

// ListTickets handles GET /tickets?limit=n.
func (ts *TicketService) ListTickets(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 200)

	tickets, err := ts.fetchTickets(`
		SELECT id, items, discount, total, received, change, deposit, payment_type, account_id, seller_id, created_at
		FROM tickets
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		ts.log.Error("failed to list tickets", zap.Error(err))
		SendErrorResponse(w, "Failed to fetch tickets", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

// UnassignedTickets handles GET /tickets/unassigned: tickets with no
// account yet, candidates for association to a cuenta corriente.
func (ts *TicketService) UnassignedTickets(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 100, 200)

	tickets, err := ts.fetchTickets(`
		SELECT id, items, discount, total, received, change, deposit, payment_type, account_id, seller_id, created_at
		FROM tickets
		WHERE account_id IS NULL AND total > 0
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		ts.log.Error("failed to list unassigned tickets", zap.Error(err))
		SendErrorResponse(w, "Failed to fetch tickets", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

func (ts *TicketService) fetchTicket(ticketID int64) (*models.Ticket, error) {
	var t models.Ticket
	err := ts.db.QueryRow(`
		SELECT id, items, discount, total, received, change, deposit, payment_type, account_id, seller_id, created_at
		FROM tickets
		WHERE id = $1`, ticketID).
		Scan(&t.ID, &t.Items, &t.Discount, &t.Total, &t.Received, &t.Change,
			&t.Deposit, &t.PaymentType, &t.AccountID, &t.SellerID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (ts *TicketService) fetchTickets(query string, args ...interface{}) ([]models.Ticket, error) {
	rows, err := ts.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.Items, &t.Discount, &t.Total, &t.Received, &t.Change,
			&t.Deposit, &t.PaymentType, &t.AccountID, &t.SellerID, &t.CreatedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
