package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kioscopos/backend/internal/models"
	"github.com/kioscopos/backend/internal/notifications"
	"github.com/kioscopos/backend/internal/observability/logger"
	"github.com/kioscopos/backend/internal/services"
)

// NotificationHandler exposes receipt delivery for committed tickets.
// It only reads ledger data; a delivery failure is reported to the
// caller but has no effect on the ticket or any movement.
type NotificationHandler struct {
	db       *sql.DB
	notifier *notifications.Service
	log      *zap.Logger
}

func NewNotificationHandler(db *sql.DB, notifier *notifications.Service) *NotificationHandler {
	return &NotificationHandler{
		db:       db,
		notifier: notifier,
		log:      logger.Named("notification-handler"),
	}
}

type sendReceiptRequest struct {
	Channel string `json:"channel"` // "email" | "whatsapp" | "qr"
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

// SendReceipt handles POST /tickets/{id}/send.
func (h *NotificationHandler) SendReceipt(w http.ResponseWriter, r *http.Request) {
	ticketID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid ticket id", http.StatusBadRequest, nil)
		return
	}

	var req sendReceiptRequest
	if err := readBody(r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	ticket, account, err := h.loadTicket(ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		services.SendErrorResponse(w, "Ticket not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		h.log.Error("failed to load ticket", zap.Int64("ticket_id", ticketID), zap.Error(err))
		services.SendErrorResponse(w, "Failed to load ticket", http.StatusInternalServerError, nil)
		return
	}

	switch req.Channel {
	case "whatsapp":
		phone := req.Phone
		if phone == "" && account != nil {
			phone = account.Phone
		}
		link, err := h.notifier.WhatsAppLink(phone, ticket, account)
		if err != nil {
			services.SendErrorResponse(w, "Phone number required", http.StatusBadRequest, nil)
			return
		}
		services.SendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "url": link})

	case "qr":
		url, err := h.notifier.PaymentQR(ticket)
		if err != nil {
			h.log.Error("failed to generate payment qr", zap.Int64("ticket_id", ticketID), zap.Error(err))
			services.SendErrorResponse(w, "Failed to generate QR", http.StatusInternalServerError, nil)
			return
		}
		services.SendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "url": url})

	case "email", "":
		email := req.Email
		if email == "" && account != nil {
			email = account.Email
		}
		if email == "" {
			services.SendErrorResponse(w, "Email address required", http.StatusBadRequest, nil)
			return
		}
		if err := h.notifier.SendReceiptEmail(email, ticket, account); err != nil {
			h.log.Warn("receipt email failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
			services.SendErrorResponse(w, "Failed to send receipt", http.StatusBadGateway, nil)
			return
		}
		services.SendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Email enviado correctamente"})

	default:
		services.SendErrorResponse(w, "Unknown channel", http.StatusBadRequest, nil)
	}
}

func (h *NotificationHandler) loadTicket(ticketID int64) (*models.Ticket, *models.Account, error) {
	var t models.Ticket
	err := h.db.QueryRow(`
		SELECT id, items, discount, total, received, change, deposit, payment_type, account_id, seller_id, created_at
		FROM tickets
		WHERE id = $1`, ticketID).
		Scan(&t.ID, &t.Items, &t.Discount, &t.Total, &t.Received, &t.Change,
			&t.Deposit, &t.PaymentType, &t.AccountID, &t.SellerID, &t.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	if t.AccountID == nil {
		return &t, nil, nil
	}

	var a models.Account
	err = h.db.QueryRow(`
		SELECT id, name, email, phone
		FROM accounts
		WHERE id = $1`, *t.AccountID).
		Scan(&a.ID, &a.Name, &a.Email, &a.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return &t, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &t, &a, nil
}
