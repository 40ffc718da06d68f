// Package notifications delivers post-commit receipt messages: email,
// WhatsApp links and payment-link QR images. Delivery is best-effort;
// a failure here never affects a committed ledger operation.
package notifications

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	mail "github.com/go-mail/mail"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/kioscopos/backend/internal/config"
	"github.com/kioscopos/backend/internal/models"
	"github.com/kioscopos/backend/internal/observability/logger"
)

type Service struct {
	cfg       *config.NotificationConfig
	staticDir string
	baseURL   string
	log       *zap.Logger
}

func New(cfg *config.NotificationConfig, staticDir, baseURL string) *Service {
	return &Service{
		cfg:       cfg,
		staticDir: staticDir,
		baseURL:   strings.TrimRight(baseURL, "/"),
		log:       logger.Named("notifications"),
	}
}

// NotifyTicket sends the receipt for a committed ticket to the
// customer on file. Safe to call from a goroutine; every failure is
// logged and swallowed.
func (s *Service) NotifyTicket(ticket *models.Ticket, account *models.Account) {
	if ticket == nil || account == nil || account.Email == "" {
		return
	}
	if err := s.SendReceiptEmail(account.Email, ticket, account); err != nil {
		s.log.Warn("receipt email failed",
			zap.Int64("ticket_id", ticket.ID),
			zap.String("to", account.Email),
			zap.Error(err))
	}
}

// SendReceiptEmail renders and sends the ticket receipt.
func (s *Service) SendReceiptEmail(to string, ticket *models.Ticket, account *models.Account) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.FromAddress)
	m.SetHeader("To", to)
	m.SetHeader("Subject", fmt.Sprintf("%s - Ticket #%d", s.cfg.StoreName, ticket.ID))
	m.SetHeader("X-Receipt-ID", uuid.NewString())
	m.SetBody("text/plain", s.ReceiptText(ticket, account))
	m.AddAlternative("text/html", s.receiptHTML(ticket, account))

	d := mail.NewDialer(s.cfg.SMTPHost, s.cfg.SMTPPort, s.cfg.SMTPUser, s.cfg.SMTPPassword)
	d.Timeout = s.cfg.SendTimeout
	d.TLSConfig = &tls.Config{ServerName: s.cfg.SMTPHost}

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// ReceiptText builds the plain-text receipt shared by email and the
// WhatsApp message.
func (s *Service) ReceiptText(ticket *models.Ticket, account *models.Account) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", s.cfg.StoreName)
	fmt.Fprintf(&b, "TICKET #%d\n", ticket.ID)
	fmt.Fprintf(&b, "Fecha: %s\n", ticket.CreatedAt.Format("02/01/2006 15:04"))
	if account != nil {
		fmt.Fprintf(&b, "Cliente: %s\n", account.Name)
	}
	fmt.Fprintf(&b, "TOTAL: $%s\n", ticket.Total.StringFixed(2))
	if ticket.Deposit.IsPositive() {
		fmt.Fprintf(&b, "Entrega: $%s\n", ticket.Deposit.StringFixed(2))
	}
	if ticket.PaymentType == models.PaymentStoreCredit {
		fmt.Fprintf(&b, "Saldo pendiente: $%s\n", ticket.Outstanding().StringFixed(2))
	} else {
		b.WriteString("PAGADO\n")
	}
	b.WriteString("¡Gracias por su compra!\n")
	return b.String()
}

func (s *Service) receiptHTML(ticket *models.Ticket, account *models.Account) string {
	var rows strings.Builder
	fmt.Fprintf(&rows, "<p><strong>SUBTOTAL:</strong> $%s</p>", ticket.Total.StringFixed(2))
	if ticket.Deposit.IsPositive() {
		fmt.Fprintf(&rows, "<p><strong>ENTREGA:</strong> $%s</p>", ticket.Deposit.StringFixed(2))
	}
	if ticket.PaymentType == models.PaymentStoreCredit {
		fmt.Fprintf(&rows, "<p><strong>SALDO PENDIENTE:</strong> $%s</p>", ticket.Outstanding().StringFixed(2))
	} else {
		rows.WriteString("<p><strong>PAGADO</strong></p>")
	}

	customer := "Cliente General"
	if account != nil {
		customer = account.Name
	}

	return fmt.Sprintf(`<html><body style="font-family: 'Courier New', monospace; max-width: 400px; margin: 0 auto;">
<h2 style="text-align: center;">%s</h2>
<h3>TICKET #%d</h3>
<p><strong>Fecha:</strong> %s</p>
<p><strong>Cliente:</strong> %s</p>
%s
<p style="text-align: center;">¡Gracias por su compra!</p>
</body></html>`,
		s.cfg.StoreName, ticket.ID, ticket.CreatedAt.Format("02/01/2006"), customer, rows.String())
}

var nonDigits = regexp.MustCompile(`\D`)

// WhatsAppLink builds a wa.me link carrying the receipt text. Numbers
// without a country code get the Argentine mobile prefix, matching how
// the store's customers are registered.
func (s *Service) WhatsAppLink(phone string, ticket *models.Ticket, account *models.Account) (string, error) {
	digits := nonDigits.ReplaceAllString(phone, "")
	if digits == "" {
		return "", fmt.Errorf("phone number required")
	}

	switch {
	case strings.HasPrefix(digits, "549"):
	case strings.HasPrefix(digits, "9"):
		digits = "54" + digits
	default:
		digits = "549" + digits
	}

	return "https://wa.me/" + digits + "?text=" + url.QueryEscape(s.ReceiptText(ticket, account)), nil
}

// PaymentQR writes a QR PNG encoding the ticket's payment link into
// the static dir and returns its public URL.
func (s *Service) PaymentQR(ticket *models.Ticket) (string, error) {
	payURL := fmt.Sprintf("%s/pay/%d", s.baseURL, ticket.ID)

	qrDir := filepath.Join(s.staticDir, "qr")
	if err := os.MkdirAll(qrDir, 0o755); err != nil {
		return "", fmt.Errorf("create qr dir: %w", err)
	}

	name := fmt.Sprintf("ticket-%d-%d.png", ticket.ID, time.Now().Unix())
	if err := qrcode.WriteFile(payURL, qrcode.Medium, 256, filepath.Join(qrDir, name)); err != nil {
		return "", fmt.Errorf("write qr: %w", err)
	}

	return s.baseURL + "/static/qr/" + name, nil
}
