/**
 * @description
 * This file defines the account domain model and its request/response DTOs.
 * An account is the ledger identity for a registered user: it carries the
 * spendable balance, the status flags that gate withdrawals, and the
 * self-referential back-pointer that forms the referral chain.
 *
 * @notes
 * - Balances and amounts use shopspring/decimal so that currency math is exact;
 *   conversion to Stripe's minor-unit integers happens only at the payout boundary.
 * - The referral graph is a forest: each account has at most one referrer and the
 *   reverse direction (referrer -> referred accounts) is derived, never stored.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account statuses.
const (
	AccountStatusActive = "active"
	AccountStatusFrozen = "frozen"
)

// Withdrawal gate statuses.
const (
	WithdrawalStatusActive = "active"
	WithdrawalStatusPaused = "paused"
)

// Account represents a user's ledger identity. This struct maps directly to the
// `accounts` table in the database.
type Account struct {
	ID                    uuid.UUID       `json:"id"`
	Email                 string          `json:"email"`
	Username              string          `json:"username"`
	PasswordHash          string          `json:"-"`
	FirstName             *string         `json:"first_name,omitempty"`
	LastName              *string         `json:"last_name,omitempty"`
	ReferralCode          string          `json:"referral_code"`
	ReferrerID            *uuid.UUID      `json:"referrer_id,omitempty"`
	Balance               decimal.Decimal `json:"balance"`
	Status                string          `json:"status"`            // 'active', 'frozen'
	WithdrawalStatus      string          `json:"withdrawal_status"` // 'active', 'paused'
	KYCVerified           bool            `json:"kyc_verified"`
	PINHash               *string         `json:"-"`
	CommissionDistributed bool            `json:"-"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// RegisterInitiateRequest is the DTO for starting a paid registration.
// The referral code is optional; when present it must resolve to an existing account.
type RegisterInitiateRequest struct {
	Email        string  `json:"email"`
	Username     string  `json:"username"`
	Password     string  `json:"password"`
	FirstName    *string `json:"first_name,omitempty"`
	LastName     *string `json:"last_name,omitempty"`
	ReferralCode string  `json:"referral_code,omitempty"`
}

// RegisterConfirmRequest is the DTO for completing a registration after the
// registration fee has been paid.
type RegisterConfirmRequest struct {
	Email           string  `json:"email"`
	Username        string  `json:"username"`
	Password        string  `json:"password"`
	FirstName       *string `json:"first_name,omitempty"`
	LastName        *string `json:"last_name,omitempty"`
	ReferralCode    string  `json:"referral_code,omitempty"`
	PaymentIntentID string  `json:"payment_intent_id"`
}

// LoginRequest authenticates by username or email plus password.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// SetPINRequest sets or replaces the withdrawal authorization PIN.
type SetPINRequest struct {
	PIN string `json:"pin"`
}
