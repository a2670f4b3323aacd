/**
 * @description
 * This file contains the HTTP handlers for the ledger service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/refpay/ledger-service/internal/app"
	"github.com/refpay/ledger-service/internal/domain"
	"github.com/refpay/ledger-service/internal/store"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service       *app.Service
	jwtSecret     string
	webhookSecret string
	publisher     payoutEventPublisher
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service, jwtSecret, webhookSecret string, publisher payoutEventPublisher) *LedgerHandlers {
	return &LedgerHandlers{
		service:       service,
		jwtSecret:     jwtSecret,
		webhookSecret: webhookSecret,
		publisher:     publisher,
	}
}

// authResponse is returned on successful login or registration.
type authResponse struct {
	Token   string          `json:"token"`
	Account *domain.Account `json:"account"`
}

// RegisterInitiateHandler starts a paid registration by creating the
// registration fee payment intent.
func (h *LedgerHandlers) RegisterInitiateHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterInitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	intent, err := h.service.RegisterInitiate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrEmailTaken), errors.Is(err, app.ErrUsernameTaken):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, app.ErrInvalidReferralCode):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=register_initiate err=%v", err)
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	h.writeJSON(w, http.StatusOK, intent)
}

// RegisterConfirmHandler completes a registration after the fee was paid.
func (h *LedgerHandlers) RegisterConfirmHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.RegisterConfirm(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrEmailTaken), errors.Is(err, app.ErrUsernameTaken):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, app.ErrInvalidReferralCode):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrPaymentNotCompleted):
			h.writeError(w, http.StatusPaymentRequired, "Registration payment has not succeeded")
		default:
			log.Printf("level=error component=api endpoint=register_confirm err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Unable to complete registration")
		}
		return
	}

	token, err := IssueToken(h.jwtSecret, account.ID)
	if err != nil {
		log.Printf("level=error component=api endpoint=register_confirm msg=\"token issuance failed\" account_id=%s err=%v", account.ID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to issue session token")
		return
	}

	h.writeJSON(w, http.StatusCreated, authResponse{Token: token, Account: account})
}

// LoginHandler authenticates by username or email plus password.
func (h *LedgerHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Printf("level=error component=api endpoint=login err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to log in")
		return
	}

	token, err := IssueToken(h.jwtSecret, account.ID)
	if err != nil {
		log.Printf("level=error component=api endpoint=login msg=\"token issuance failed\" account_id=%s err=%v", account.ID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to issue session token")
		return
	}

	h.writeJSON(w, http.StatusOK, authResponse{Token: token, Account: account})
}

// GetAccountHandler returns the authenticated account.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_account account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load account")
		return
	}

	h.writeJSON(w, http.StatusOK, account)
}

// SetPINHandler sets or replaces the withdrawal authorization PIN.
func (h *LedgerHandlers) SetPINHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	var req domain.SetPINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetWithdrawalPIN(r.Context(), accountID, req.PIN); err != nil {
		if errors.Is(err, app.ErrInvalidPIN) {
			h.writeError(w, http.StatusBadRequest, "PIN must be exactly 4 digits")
			return
		}
		log.Printf("level=error component=api endpoint=set_pin account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to set PIN")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Withdrawal PIN updated"})
}

// CreateWithdrawalHandler initiates a withdrawal to an external bank account.
func (h *LedgerHandlers) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	var req domain.CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	withdrawal, err := h.service.CreateWithdrawal(r.Context(), accountID, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrRateLimited):
			h.writeError(w, http.StatusTooManyRequests, "Too many withdrawal attempts. Please wait and try again.")
		case errors.Is(err, app.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "Withdrawal amount is invalid")
		case errors.Is(err, store.ErrAccountNotFound):
			h.writeError(w, http.StatusNotFound, "Account not found")
		case errors.Is(err, app.ErrAccountFrozen):
			h.writeError(w, http.StatusForbidden, "Account is frozen")
		case errors.Is(err, app.ErrKYCRequired):
			h.writeError(w, http.StatusForbidden, "Identity verification is required before withdrawing")
		case errors.Is(err, app.ErrWithdrawalsPaused):
			h.writeError(w, http.StatusForbidden, "Withdrawals are paused for this account")
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusUnprocessableEntity, "Insufficient balance")
		case errors.Is(err, app.ErrPINNotSet):
			h.writeError(w, http.StatusPreconditionFailed, "Withdrawal PIN is not set. Please create your PIN first.")
		case errors.Is(err, app.ErrInvalidPIN):
			h.writeError(w, http.StatusUnauthorized, "Invalid withdrawal PIN")
		default:
			log.Printf("level=error component=api endpoint=create_withdrawal account_id=%s err=%v", accountID, err)
			h.writeError(w, http.StatusBadGateway, "Unable to initiate withdrawal")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, withdrawal)
}

// ListWithdrawalsHandler lists the authenticated account's withdrawal records.
func (h *LedgerHandlers) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	withdrawals, err := h.service.ListWithdrawals(r.Context(), accountID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_withdrawals account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list withdrawals")
		return
	}
	if withdrawals == nil {
		withdrawals = []domain.WithdrawalRequest{}
	}

	h.writeJSON(w, http.StatusOK, withdrawals)
}

// ListTransactionsHandler lists the authenticated account's ledger history.
func (h *LedgerHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), accountID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_transactions account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list transactions")
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}

	h.writeJSON(w, http.StatusOK, transactions)
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
