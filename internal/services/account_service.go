package services

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kioscopos/backend/internal/models"
	"github.com/kioscopos/backend/internal/observability/logger"
)

// AccountService manages customer records: the credit_enabled flag and
// credit_limit it maintains are consumed by the ledger engine as given
// inputs. Balances are owned by the ledger service and are never
// touched here.
type AccountService struct {
	db        *sql.DB
	validator *ValidationHelper
	log       *zap.Logger
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		validator: NewValidationHelper(),
		log:       logger.Named("accounts"),
	}
}

type registerAccountRequest struct {
	Name          string          `json:"name" validate:"required,max=120"`
	Email         string          `json:"email" validate:"required,email"`
	Phone         string          `json:"phone" validate:"max=30"`
	Address       string          `json:"address" validate:"max=200"`
	CreditEnabled bool            `json:"credit_enabled"`
	CreditLimit   decimal.Decimal `json:"credit_limit"`
}

// Register handles POST /customers. New accounts always start with a
// zero balance; only movements can change it afterwards.
func (as *AccountService) Register(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if err := readJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.CreditLimit.IsNegative() {
		SendErrorResponse(w, "credit_limit must not be negative", http.StatusBadRequest, nil)
		return
	}

	account := &models.Account{
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		Address:       req.Address,
		CreditEnabled: req.CreditEnabled,
		CreditLimit:   req.CreditLimit,
		Balance:       decimal.Zero,
	}

	err := as.db.QueryRow(`
		INSERT INTO accounts (name, email, phone, address, credit_enabled, credit_limit, balance)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING id, created_at, updated_at`,
		account.Name, account.Email, account.Phone, account.Address,
		account.CreditEnabled, account.CreditLimit).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "A customer with that email already exists", http.StatusConflict, nil)
			return
		}
		as.log.Error("failed to register customer", zap.Error(err))
		SendErrorResponse(w, "Failed to register customer", http.StatusInternalServerError, nil)
		return
	}

	as.log.Info("customer registered", zap.Int64("account_id", account.ID), zap.Bool("credit_enabled", account.CreditEnabled))
	SendJSON(w, http.StatusCreated, account)
}

type updateAccountRequest struct {
	Name          string          `json:"name" validate:"required,max=120"`
	Email         string          `json:"email" validate:"required,email"`
	Phone         string          `json:"phone" validate:"max=30"`
	Address       string          `json:"address" validate:"max=200"`
	CreditEnabled bool            `json:"credit_enabled"`
	CreditLimit   decimal.Decimal `json:"credit_limit"`
}

// Update handles PUT /customers/{id}. Deliberately cannot change the
// balance or version columns.
func (as *AccountService) Update(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var req updateAccountRequest
	if err := readJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.CreditLimit.IsNegative() {
		SendErrorResponse(w, "credit_limit must not be negative", http.StatusBadRequest, nil)
		return
	}

	result, err := as.db.Exec(`
		UPDATE accounts
		SET name = $1, email = $2, phone = $3, address = $4, credit_enabled = $5, credit_limit = $6, updated_at = NOW()
		WHERE id = $7`,
		req.Name, req.Email, req.Phone, req.Address, req.CreditEnabled, req.CreditLimit, accountID)
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "A customer with that email already exists", http.StatusConflict, nil)
			return
		}
		as.log.Error("failed to update customer", zap.Int64("account_id", accountID), zap.Error(err))
		SendErrorResponse(w, "Failed to update customer", http.StatusInternalServerError, nil)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		SendErrorResponse(w, "Customer not found", http.StatusNotFound, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]string{"message": "Customer updated"})
}

// Get handles GET /customers/{id}.
func (as *AccountService) Get(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	account, err := as.fetchAccount(accountID)
	if errors.Is(err, sql.ErrNoRows) {
		SendErrorResponse(w, "Customer not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		as.log.Error("failed to fetch customer", zap.Int64("account_id", accountID), zap.Error(err))
		SendErrorResponse(w, "Failed to fetch customer", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, account)
}

// List handles GET /customers?credit=true.
func (as *AccountService) List(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT id, name, email, phone, address, credit_enabled, credit_limit, balance, created_at, updated_at
		FROM accounts
		ORDER BY name ASC`
	if r.URL.Query().Get("credit") == "true" {
		query = `
		SELECT id, name, email, phone, address, credit_enabled, credit_limit, balance, created_at, updated_at
		FROM accounts
		WHERE credit_enabled = TRUE
		ORDER BY name ASC`
	}

	accounts, err := as.fetchAccounts(query)
	if err != nil {
		as.log.Error("failed to list customers", zap.Error(err))
		SendErrorResponse(w, "Failed to fetch customers", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"customers": accounts,
		"count":     len(accounts),
	})
}

// Search handles GET /customers/search?q=.
func (as *AccountService) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		SendErrorResponse(w, "Query parameter q is required", http.StatusBadRequest, nil)
		return
	}

	accounts, err := as.fetchAccounts(`
		SELECT id, name, email, phone, address, credit_enabled, credit_limit, balance, created_at, updated_at
		FROM accounts
		WHERE name ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
		ORDER BY name ASC
		LIMIT 50`, q)
	if err != nil {
		as.log.Error("failed to search customers", zap.Error(err))
		SendErrorResponse(w, "Failed to search customers", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"customers": accounts,
		"count":     len(accounts),
	})
}

func (as *AccountService) fetchAccount(accountID int64) (*models.Account, error) {
	var a models.Account
	err := as.db.QueryRow(`
		SELECT id, name, email, phone, address, credit_enabled, credit_limit, balance, created_at, updated_at
		FROM accounts
		WHERE id = $1`, accountID).
		Scan(&a.ID, &a.Name, &a.Email, &a.Phone, &a.Address, &a.CreditEnabled,
			&a.CreditLimit, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (as *AccountService) fetchAccounts(query string, args ...interface{}) ([]models.Account, error) {
	rows, err := as.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.Phone, &a.Address, &a.CreditEnabled,
			&a.CreditLimit, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
