/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed for accounts, ledger transactions, and
 * withdrawal records, including the row-locked balance mutation that keeps
 * concurrent debits safe.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Exact currency amounts (NUMERIC columns).
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/refpay/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrTransactionFinalized = errors.New("transaction already finalized")
	ErrWithdrawalNotFound   = errors.New("withdrawal not found")
	ErrWithdrawalSettled    = errors.New("withdrawal already settled")
	ErrDuplicateAccount     = errors.New("account already exists")
)

const accountColumns = `id, email, username, password_hash, first_name, last_name, referral_code,
       referrer_id, balance, status, withdrawal_status, kyc_verified, pin_hash,
       commission_distributed, created_at, updated_at`

// isUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Username,
		&account.PasswordHash,
		&account.FirstName,
		&account.LastName,
		&account.ReferralCode,
		&account.ReferrerID,
		&account.Balance,
		&account.Status,
		&account.WithdrawalStatus,
		&account.KYCVerified,
		&account.PINHash,
		&account.CommissionDistributed,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindAccountByID retrieves an account by its id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// FindAccountByEmail retrieves an account by email (case-insensitive).
func (r *PostgresRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = lower(btrim($1))`
	return scanAccount(r.db.QueryRow(ctx, query, email))
}

// FindAccountByUsername retrieves an account by username (case-insensitive).
func (r *PostgresRepository) FindAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(username) = lower(btrim($1))`
	return scanAccount(r.db.QueryRow(ctx, query, username))
}

// FindAccountByIdentifier resolves an account by username or email in one query.
func (r *PostgresRepository) FindAccountByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE lower(username) = lower(btrim($1)) OR lower(email) = lower(btrim($1))
	`
	return scanAccount(r.db.QueryRow(ctx, query, identifier))
}

// FindAccountByReferralCode resolves the account owning a referral code.
func (r *PostgresRepository) FindAccountByReferralCode(ctx context.Context, referralCode string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE referral_code = btrim($1)`
	return scanAccount(r.db.QueryRow(ctx, query, referralCode))
}

// CreateAccount inserts a new account with balance zero.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (
			id, email, username, password_hash, first_name, last_name,
			referral_code, referrer_id, balance, status, withdrawal_status,
			kyc_verified, pin_hash, commission_distributed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Exec(ctx, query,
		account.ID,
		account.Email,
		account.Username,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		account.ReferralCode,
		account.ReferrerID,
		account.Balance,
		account.Status,
		account.WithdrawalStatus,
		account.KYCVerified,
		account.PINHash,
		account.CommissionDistributed,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateAccount
	}
	return err
}

// SetWithdrawalPIN stores the bcrypt hash of the withdrawal authorization PIN.
func (r *PostgresRepository) SetWithdrawalPIN(ctx context.Context, accountID uuid.UUID, pinHash string) error {
	query := `UPDATE accounts SET pin_hash = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.Exec(ctx, query, pinHash, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ApplyBalanceChange atomically applies a signed amount to an account balance.
// The row is locked with FOR UPDATE so two concurrent debits cannot both pass
// the sufficiency check; a result below zero aborts with ErrInsufficientFunds
// and leaves the balance untouched.
func (r *PostgresRepository) ApplyBalanceChange(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", accountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	newBalance := balance.Add(amount)
	if newBalance.IsNegative() {
		return nil, ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, "UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2", newBalance, accountID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return r.FindAccountByID(ctx, accountID)
}

// MarkCommissionDistributed wins the one-shot distribution flag for an account.
// The guarded UPDATE is the dedupe key that makes at-least-once delivery of the
// registration event safe: only the first caller sees a row change.
func (r *PostgresRepository) MarkCommissionDistributed(ctx context.Context, accountID uuid.UUID) (bool, error) {
	query := `
		UPDATE accounts
		SET commission_distributed = TRUE, updated_at = NOW()
		WHERE id = $1 AND commission_distributed = FALSE
	`
	result, err := r.db.Exec(ctx, query, accountID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// CreateTransaction inserts a new ledger entry.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, account_id, type, amount, status, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID,
		tx.AccountID,
		tx.Type,
		tx.Amount,
		tx.Status,
		tx.Reference,
	)
	return err
}

// CreateTransactionWithBalanceChange inserts a ledger entry and applies its
// signed amount to the owning account while holding the account's row lock.
// The entry and its balance effect commit together or not at all.
func (r *PostgresRepository) CreateTransactionWithBalanceChange(ctx context.Context, entry *domain.Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", entry.AccountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}

	newBalance := balance.Add(entry.Amount)
	if newBalance.IsNegative() {
		return ErrInsufficientFunds
	}

	insert := `
		INSERT INTO transactions (id, account_id, type, amount, status, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, insert, entry.ID, entry.AccountID, entry.Type, entry.Amount, entry.Status, entry.Reference); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2", newBalance, entry.AccountID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpdateTransactionStatus transitions a non-terminal ledger entry. Completed and
// failed entries are immutable; attempting to move one returns
// ErrTransactionFinalized so callers can recognize replays.
func (r *PostgresRepository) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, status string) error {
	query := `
		UPDATE transactions
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`
	result, err := r.db.Exec(ctx, query, transactionID, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)", transactionID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrTransactionNotFound
	}
	return ErrTransactionFinalized
}

// DeleteTransaction discards a pending ledger entry. Only the withdrawal
// engine's compensation path uses this, and only for entries it created in the
// same failed unit of work.
func (r *PostgresRepository) DeleteTransaction(ctx context.Context, transactionID uuid.UUID) error {
	result, err := r.db.Exec(ctx, "DELETE FROM transactions WHERE id = $1 AND status NOT IN ('completed', 'failed')", transactionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// FindTransactionsByAccountID retrieves an account's ledger history, newest first.
func (r *PostgresRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT id, account_id, type, amount, status, COALESCE(reference, '') AS reference, created_at, updated_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Type, &tx.Amount, &tx.Status, &tx.Reference, &tx.CreatedAt, &tx.UpdatedAt)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// CreateWithdrawalRequest inserts a withdrawal record. The unique constraint on
// transaction_id enforces the 1:1 link with the reserving ledger entry.
func (r *PostgresRepository) CreateWithdrawalRequest(ctx context.Context, withdrawal *domain.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (
			id, account_id, transaction_id, amount, status,
			bank_name, account_number, account_name, stripe_payout_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		withdrawal.ID,
		withdrawal.AccountID,
		withdrawal.TransactionID,
		withdrawal.Amount,
		withdrawal.Status,
		withdrawal.BankName,
		withdrawal.AccountNumber,
		withdrawal.AccountName,
		withdrawal.StripePayoutID,
	)
	return err
}

// FindWithdrawalByPayoutID looks up the withdrawal record owning an external payout reference.
func (r *PostgresRepository) FindWithdrawalByPayoutID(ctx context.Context, payoutID string) (*domain.WithdrawalRequest, error) {
	query := `
		SELECT id, account_id, transaction_id, amount, status, bank_name,
		       account_number, account_name, stripe_payout_id, created_at, updated_at
		FROM withdrawal_requests
		WHERE stripe_payout_id = $1
	`
	var w domain.WithdrawalRequest
	err := r.db.QueryRow(ctx, query, payoutID).Scan(
		&w.ID,
		&w.AccountID,
		&w.TransactionID,
		&w.Amount,
		&w.Status,
		&w.BankName,
		&w.AccountNumber,
		&w.AccountName,
		&w.StripePayoutID,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &w, nil
}

// lockProcessingWithdrawal locks a withdrawal row for a settlement unit and
// verifies it has not already settled.
func lockProcessingWithdrawal(ctx context.Context, tx pgx.Tx, withdrawalID uuid.UUID) (accountID, transactionID uuid.UUID, amount decimal.Decimal, err error) {
	var status string
	err = tx.QueryRow(ctx, `
		SELECT account_id, transaction_id, amount, status
		FROM withdrawal_requests
		WHERE id = $1
		FOR UPDATE
	`, withdrawalID).Scan(&accountID, &transactionID, &amount, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			err = ErrWithdrawalNotFound
		}
		return
	}
	if status != "processing" {
		err = ErrWithdrawalSettled
	}
	return
}

// SettleWithdrawalPaid finalizes a successful payout in one database
// transaction. The reserved funds already left the balance, so only statuses
// change: the withdrawal moves to 'paid' and the ledger entry to 'completed'.
func (r *PostgresRepository) SettleWithdrawalPaid(ctx context.Context, withdrawalID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, transactionID, _, err := lockProcessingWithdrawal(ctx, tx, withdrawalID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "UPDATE withdrawal_requests SET status = 'paid', updated_at = NOW() WHERE id = $1", withdrawalID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE transactions SET status = 'completed', updated_at = NOW() WHERE id = $1 AND status NOT IN ('completed', 'failed')", transactionID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SettleWithdrawalFailed finalizes a failed payout and refunds the reserved
// amount. Winning the 'processing' row lock, failing the ledger entry, and
// crediting the balance commit together; any failure rolls the unit back so a
// redelivered notification retries it from scratch.
func (r *PostgresRepository) SettleWithdrawalFailed(ctx context.Context, withdrawalID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	accountID, transactionID, amount, err := lockProcessingWithdrawal(ctx, tx, withdrawalID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "UPDATE withdrawal_requests SET status = 'failed', updated_at = NOW() WHERE id = $1", withdrawalID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE transactions SET status = 'failed', updated_at = NOW() WHERE id = $1 AND status NOT IN ('completed', 'failed')", transactionID); err != nil {
		return err
	}

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", accountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2", balance.Add(amount), accountID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListWithdrawalsByAccountID retrieves an account's withdrawal records, newest first.
func (r *PostgresRepository) ListWithdrawalsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.WithdrawalRequest, error) {
	query := `
		SELECT id, account_id, transaction_id, amount, status, bank_name,
		       account_number, account_name, stripe_payout_id, created_at, updated_at
		FROM withdrawal_requests
		WHERE account_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdrawals []domain.WithdrawalRequest
	for rows.Next() {
		var w domain.WithdrawalRequest
		err := rows.Scan(
			&w.ID, &w.AccountID, &w.TransactionID, &w.Amount, &w.Status,
			&w.BankName, &w.AccountNumber, &w.AccountName, &w.StripePayoutID,
			&w.CreatedAt, &w.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}

	return withdrawals, rows.Err()
}
