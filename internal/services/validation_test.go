package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_RegisterAccountRequest(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid request", func(t *testing.T) {
		req := registerAccountRequest{
			Name:          "Maria Lopez",
			Email:         "maria@example.com",
			Phone:         "1155550000",
			CreditEnabled: true,
			CreditLimit:   decimal.NewFromInt(5000),
		}
		assert.NoError(t, vh.ValidateStruct(&req))
	})

	t.Run("missing name and bad email", func(t *testing.T) {
		req := registerAccountRequest{Email: "not-an-email"}

		err := vh.ValidateStruct(&req)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 2)
	})
}

func TestValidationHelper_CreateTicketRequest(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("payment type must be known", func(t *testing.T) {
		req := createTicketRequest{
			Items:       json.RawMessage(`[]`),
			PaymentType: "tarjeta",
		}

		err := vh.ValidateStruct(&req)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Equal(t, "oneof", validationErrors[0].Tag())
	})

	t.Run("empty payment type defaults later", func(t *testing.T) {
		req := createTicketRequest{Items: json.RawMessage(`[]`)}
		assert.NoError(t, vh.ValidateStruct(&req))
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("without details", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Customer not found", http.StatusNotFound, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Customer not found", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("with validation errors", func(t *testing.T) {
		vh := NewValidationHelper()
		req := registerAccountRequest{Email: "not-an-email"}

		validationErr := vh.ValidateStruct(&req)
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "Name")
		assert.Contains(t, response.Details, "Email")
	})
}

func TestSendJSON_DecimalEncoding(t *testing.T) {
	w := httptest.NewRecorder()

	SendJSON(w, http.StatusOK, map[string]interface{}{
		"balance": decimal.RequireFromString("1810.50"),
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"1810.5"`)
}
