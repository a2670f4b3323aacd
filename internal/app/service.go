/**
 * @description
 * This file contains the core business logic for the ledger service. The
 * `Service` struct orchestrates account lifecycle operations, coordinating
 * between the database repository, the Stripe API client, and the message
 * broker.
 *
 * Key features:
 * - Paid registration in two steps: initiate creates a payment intent for the
 *   registration fee, confirm verifies the payment server-side and only then
 *   creates the account and announces it for commission distribution.
 * - Credential checks (password, withdrawal PIN) via bcrypt.
 * - Read paths for balances, ledger history, and withdrawal records.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and referral codes.
 * - github.com/shopspring/decimal: For exact currency amounts.
 * - golang.org/x/crypto/bcrypt: For password and PIN hashing.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq, pkg/stripeclient: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/refpay/ledger-service/internal/domain"
	"github.com/refpay/ledger-service/internal/store"
	"github.com/refpay/ledger-service/pkg/rabbitmq"
	"github.com/refpay/ledger-service/pkg/stripeclient"
)

const payoutCurrency = "gbp"

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailTaken          = errors.New("email is already registered")
	ErrUsernameTaken       = errors.New("username is already taken")
	ErrInvalidReferralCode = errors.New("referral code does not exist")
	ErrPaymentNotCompleted = errors.New("registration payment has not succeeded")
	ErrAccountFrozen       = errors.New("account is frozen")
	ErrKYCRequired         = errors.New("identity verification is required before withdrawing")
	ErrWithdrawalsPaused   = errors.New("withdrawals are paused for this account")
	ErrPINNotSet           = errors.New("withdrawal pin has not been set")
	ErrInvalidPIN          = errors.New("withdrawal pin is incorrect")
	ErrInvalidAmount       = errors.New("withdrawal amount is invalid")
	ErrRateLimited         = errors.New("too many withdrawal attempts")
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

// PayoutGateway is the Stripe API surface the service depends on. It is
// satisfied by *stripeclient.Client and stubbed in tests.
type PayoutGateway interface {
	CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*stripeclient.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*stripeclient.PaymentIntent, error)
	CreateBankAccountToken(ctx context.Context, params stripeclient.BankAccountParams) (*stripeclient.Token, error)
	CreatePayout(ctx context.Context, params stripeclient.PayoutParams) (*stripeclient.Payout, error)
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo                 store.Repository
	payouts              PayoutGateway
	eventProducer        rabbitmq.Publisher
	rateLimiter          *RedisWithdrawalRateLimiter
	registrationFeePence int64
	withdrawalRateLimit  int
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, payouts PayoutGateway, producer rabbitmq.Publisher, rateLimiter *RedisWithdrawalRateLimiter, registrationFeePence int64, withdrawalRateLimit int) *Service {
	return &Service{
		repo:                 repo,
		payouts:              payouts,
		eventProducer:        producer,
		rateLimiter:          rateLimiter,
		registrationFeePence: registrationFeePence,
		withdrawalRateLimit:  withdrawalRateLimit,
	}
}

// RegistrationIntent is what the client needs to collect the registration fee.
type RegistrationIntent struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	AmountPence     int64  `json:"amount"`
	Currency        string `json:"currency"`
}

// RegisterInitiate validates a prospective registration and creates the
// payment intent for the registration fee. No account exists until the fee is
// confirmed paid.
func (s *Service) RegisterInitiate(ctx context.Context, req domain.RegisterInitiateRequest) (*RegistrationIntent, error) {
	if err := s.validateRegistration(ctx, req.Email, req.Username, req.Password, req.ReferralCode); err != nil {
		return nil, err
	}

	intent, err := s.payouts.CreatePaymentIntent(ctx, s.registrationFeePence, payoutCurrency, map[string]string{
		"purpose":  "registration_fee",
		"email":    strings.ToLower(strings.TrimSpace(req.Email)),
		"username": strings.TrimSpace(req.Username),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registration payment intent: %w", err)
	}

	log.Printf("level=info component=service msg=\"registration initiated\" username=%s payment_intent=%s", req.Username, intent.ID)

	return &RegistrationIntent{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		AmountPence:     s.registrationFeePence,
		Currency:        payoutCurrency,
	}, nil
}

// RegisterConfirm verifies the registration fee was paid, creates the account,
// and publishes the confirmation event that triggers commission distribution.
func (s *Service) RegisterConfirm(ctx context.Context, req domain.RegisterConfirmRequest) (*domain.Account, error) {
	if err := s.validateRegistration(ctx, req.Email, req.Username, req.Password, req.ReferralCode); err != nil {
		return nil, err
	}

	// The client claims payment happened; the payment intent status is the
	// only thing we trust.
	intent, err := s.payouts.GetPaymentIntent(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify payment intent: %w", err)
	}
	if intent.Status != "succeeded" {
		log.Printf("level=warn component=service msg=\"registration confirm with unpaid intent\" username=%s payment_intent=%s status=%s", req.Username, intent.ID, intent.Status)
		return nil, ErrPaymentNotCompleted
	}

	var referrerID *uuid.UUID
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		referrer, err := s.repo.FindAccountByReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return nil, ErrInvalidReferralCode
			}
			return nil, fmt.Errorf("failed to resolve referral code: %w", err)
		}
		referrerID = &referrer.ID
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &domain.Account{
		ID:               uuid.New(),
		Email:            strings.ToLower(strings.TrimSpace(req.Email)),
		Username:         strings.TrimSpace(req.Username),
		PasswordHash:     string(passwordHash),
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		ReferralCode:     generateReferralCode(),
		ReferrerID:       referrerID,
		Balance:          decimal.Zero,
		Status:           domain.AccountStatusActive,
		WithdrawalStatus: domain.WithdrawalStatusActive,
	}

	if err := s.repo.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicateAccount) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	event := rabbitmq.RegistrationConfirmedEvent{
		AccountID: account.ID,
		Username:  account.Username,
		Timestamp: time.Now().UTC(),
	}
	if err := s.eventProducer.PublishRegistrationConfirmed(ctx, event); err != nil {
		// The account exists either way; distribution catches up when the
		// event is replayed or republished.
		log.Printf("level=error component=service msg=\"failed to publish registration event\" account_id=%s err=%v", account.ID, err)
	}

	log.Printf("level=info component=service msg=\"registration confirmed\" account_id=%s username=%s referred=%v", account.ID, account.Username, referrerID != nil)
	return account, nil
}

// Login authenticates by username or email plus password.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.Account, error) {
	account, err := s.repo.FindAccountByIdentifier(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return account, nil
}

// SetWithdrawalPIN sets or replaces the 4-digit PIN that authorizes withdrawals.
func (s *Service) SetWithdrawalPIN(ctx context.Context, accountID uuid.UUID, pin string) error {
	if !pinPattern.MatchString(pin) {
		return ErrInvalidPIN
	}

	pinHash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}

	return s.repo.SetWithdrawalPIN(ctx, accountID, string(pinHash))
}

// GetAccount retrieves an account by id.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.FindAccountByID(ctx, accountID)
}

// ListTransactions retrieves an account's ledger history, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsByAccountID(ctx, accountID)
}

// ListWithdrawals retrieves an account's withdrawal records, newest first.
func (s *Service) ListWithdrawals(ctx context.Context, accountID uuid.UUID) ([]domain.WithdrawalRequest, error) {
	return s.repo.ListWithdrawalsByAccountID(ctx, accountID)
}

// validateRegistration applies the field checks shared by both registration steps.
func (s *Service) validateRegistration(ctx context.Context, email, username, password, referralCode string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	if email == "" || !strings.Contains(email, "@") {
		return errors.New("a valid email address is required")
	}
	if len(username) < 3 {
		return errors.New("username must be at least 3 characters")
	}
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	if _, err := s.repo.FindAccountByEmail(ctx, email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return fmt.Errorf("failed to check email: %w", err)
	}

	if _, err := s.repo.FindAccountByUsername(ctx, username); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return fmt.Errorf("failed to check username: %w", err)
	}

	if code := strings.TrimSpace(referralCode); code != "" {
		if _, err := s.repo.FindAccountByReferralCode(ctx, code); err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return ErrInvalidReferralCode
			}
			return fmt.Errorf("failed to resolve referral code: %w", err)
		}
	}

	return nil
}

// generateReferralCode derives a 12-character uppercase code from a fresh UUID.
func generateReferralCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(raw[:12])
}
