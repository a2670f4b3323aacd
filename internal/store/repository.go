/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * the ledger service needs. Business logic in internal/app depends on this
 * interface rather than on PostgreSQL directly, which keeps the withdrawal,
 * commission, and settlement flows testable with in-memory stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For entity identifiers.
 * - github.com/shopspring/decimal: For exact currency amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/refpay/ledger-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	// FindAccountByIdentifier resolves either a username or an email address.
	FindAccountByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
	FindAccountByReferralCode(ctx context.Context, referralCode string) (*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	SetWithdrawalPIN(ctx context.Context, accountID uuid.UUID, pinHash string) error

	// ApplyBalanceChange atomically applies balance += amount (amount may be
	// negative) while holding a row lock, and fails with ErrInsufficientFunds
	// when the result would go below zero. This is the only place the
	// non-negative balance invariant is enforced; every credit and debit in the
	// service funnels through it.
	ApplyBalanceChange(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.Account, error)

	// MarkCommissionDistributed flips the one-shot distribution flag for an
	// account. Returns true when this call won the flag, false when commission
	// for the account was already distributed.
	MarkCommissionDistributed(ctx context.Context, accountID uuid.UUID) (bool, error)

	// Transaction (ledger entry) methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	// CreateTransactionWithBalanceChange inserts a ledger entry and applies its
	// signed amount to the owning account in the same database transaction, so
	// the entry can never exist without its balance effect.
	CreateTransactionWithBalanceChange(ctx context.Context, tx *domain.Transaction) error
	UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error
	DeleteTransaction(ctx context.Context, transactionID uuid.UUID) error
	FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error)

	// Withdrawal record methods
	CreateWithdrawalRequest(ctx context.Context, withdrawal *domain.WithdrawalRequest) error
	FindWithdrawalByPayoutID(ctx context.Context, payoutID string) (*domain.WithdrawalRequest, error)
	// SettleWithdrawalPaid finalizes a paid withdrawal: the record moves from
	// 'processing' to 'paid' and the linked ledger entry completes, both in
	// one database transaction. Returns ErrWithdrawalSettled when the record
	// already reached a terminal state, which lets the settlement reconciler
	// drop replayed notifications.
	SettleWithdrawalPaid(ctx context.Context, withdrawalID uuid.UUID) error
	// SettleWithdrawalFailed finalizes a failed withdrawal and refunds the
	// reserved amount. The status transition, the ledger entry failure, and
	// the refund credit commit together; a partial failure rolls everything
	// back so a redelivered notification retries the whole unit.
	SettleWithdrawalFailed(ctx context.Context, withdrawalID uuid.UUID) error
	ListWithdrawalsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.WithdrawalRequest, error)
}
