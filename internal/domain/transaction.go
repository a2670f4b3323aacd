/**
 * @description
 * This file defines the ledger entry (transaction) and withdrawal record domain
 * models. A transaction is the immutable record of a balance-affecting event;
 * a withdrawal record is the provider-facing settlement object that tracks one
 * outbound Stripe payout and links 1:1 to its reserving transaction.
 *
 * @notes
 * - Transaction amounts are signed: commissions and bonuses are positive,
 *   withdrawals negative. Only the status column ever changes after creation.
 * - WithdrawalRequest.Amount always equals the absolute value of the linked
 *   transaction's amount; the link is enforced unique in the database.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction kinds.
const (
	TransactionTypeCommission = "commission"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeBonus      = "bonus"
)

// Transaction statuses.
const (
	TransactionStatusPending    = "pending"
	TransactionStatusProcessing = "processing"
	TransactionStatusCompleted  = "completed"
	TransactionStatusFailed     = "failed"
)

// Withdrawal record statuses.
const (
	WithdrawalRecordProcessing     = "processing"
	WithdrawalRecordPaid           = "paid"
	WithdrawalRecordFailed         = "failed"
	WithdrawalRecordRequiresAction = "requires_action"
)

// Transaction represents one ledger entry for an account. This struct maps
// directly to the `transactions` table in the database.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	AccountID uuid.UUID       `json:"account_id"`
	Type      string          `json:"type"`   // 'commission', 'withdrawal', 'bonus'
	Amount    decimal.Decimal `json:"amount"` // signed: positive credit, negative debit
	Status    string          `json:"status"` // 'pending', 'processing', 'completed', 'failed'
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WithdrawalRequest represents one outbound payout and its settlement state.
// This struct maps directly to the `withdrawal_requests` table.
type WithdrawalRequest struct {
	ID             uuid.UUID       `json:"id"`
	AccountID      uuid.UUID       `json:"account_id"`
	TransactionID  uuid.UUID       `json:"transaction_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"` // 'processing', 'paid', 'failed', 'requires_action'
	BankName       string          `json:"bank_name"`
	AccountNumber  string          `json:"account_number"`
	AccountName    string          `json:"account_name"`
	StripePayoutID *string         `json:"stripe_payout_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreateWithdrawalRequest is the DTO for incoming withdrawal API requests.
// The sort code is used only to tokenize the destination with the payout
// provider; it is never persisted.
type CreateWithdrawalRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PIN           string          `json:"pin"`
	BankName      string          `json:"bank_name"`
	AccountNumber string          `json:"account_number"`
	SortCode      string          `json:"sort_code"`
	AccountName   string          `json:"account_name"`
}
