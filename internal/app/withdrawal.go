/**
 * @description
 * This file implements the withdrawal flow: precondition checks, funds
 * reservation, payout initiation with Stripe, and compensation when the payout
 * cannot be created.
 *
 * The unit of work is deliberately not a single database transaction. The
 * debit and the pending ledger entry are applied first, the external payout
 * call happens second, and a failed call triggers explicit compensation
 * (credit the amount back, delete the pending entry) so a failed attempt
 * leaves no visible trace on the account.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal.
 * - internal/domain, internal/store, pkg/stripeclient.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/refpay/ledger-service/internal/domain"
	"github.com/refpay/ledger-service/internal/store"
	"github.com/refpay/ledger-service/pkg/stripeclient"
)

const withdrawalRateLimitWindow = time.Minute

// CreateWithdrawal validates, reserves, and initiates a withdrawal. On
// success the account balance is already reduced, a processing ledger entry
// exists, and a withdrawal record tracks the Stripe payout until the
// settlement webhook resolves it.
func (s *Service) CreateWithdrawal(ctx context.Context, accountID uuid.UUID, req domain.CreateWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	if s.rateLimiter != nil && s.withdrawalRateLimit > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "withdrawal", accountID.String(), s.withdrawalRateLimit, withdrawalRateLimitWindow)
		if err != nil {
			// Redis being down must not block withdrawals.
			log.Printf("level=warn component=service msg=\"rate limiter unavailable; allowing request\" account_id=%s err=%v", accountID, err)
		} else if count > s.withdrawalRateLimit {
			log.Printf("level=warn component=service msg=\"withdrawal rate limited\" account_id=%s count=%d retry_after=%d", accountID, count, retryAfter)
			return nil, ErrRateLimited
		}
	}

	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, ErrInvalidAmount
	}

	// 1. Precondition checks, in a fixed order so callers get deterministic errors.
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Status != domain.AccountStatusActive {
		return nil, ErrAccountFrozen
	}
	if !account.KYCVerified {
		return nil, ErrKYCRequired
	}
	if account.WithdrawalStatus != domain.WithdrawalStatusActive {
		return nil, ErrWithdrawalsPaused
	}
	if account.Balance.LessThan(req.Amount) {
		return nil, store.ErrInsufficientFunds
	}
	if account.PINHash == nil {
		return nil, ErrPINNotSet
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*account.PINHash), []byte(req.PIN)); err != nil {
		return nil, ErrInvalidPIN
	}

	// 2. Tokenize the destination before any ledger activity. The provider
	// call runs ahead of the reserve so a declined sort code or account
	// number fails with nothing to undo.
	token, err := s.payouts.CreateBankAccountToken(ctx, stripeclient.BankAccountParams{
		Country:           "GB",
		Currency:          payoutCurrency,
		AccountHolderName: req.AccountName,
		RoutingNumber:     req.SortCode,
		AccountNumber:     req.AccountNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize bank account: %w", err)
	}

	// 3. Reserve the funds: pending ledger entry plus an atomic debit. The
	// debit is what actually enforces sufficiency under concurrency.
	txRecord := &domain.Transaction{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      domain.TransactionTypeWithdrawal,
		Amount:    req.Amount.Neg(),
		Status:    domain.TransactionStatusPending,
		Reference: fmt.Sprintf("Withdrawal to %s", req.BankName),
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		return nil, fmt.Errorf("failed to create withdrawal transaction: %w", err)
	}

	if _, err := s.repo.ApplyBalanceChange(ctx, accountID, req.Amount.Neg()); err != nil {
		if delErr := s.repo.DeleteTransaction(ctx, txRecord.ID); delErr != nil {
			log.Printf("CRITICAL: failed to remove pending withdrawal tx %s after debit failure: %v", txRecord.ID, delErr)
		}
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}

	// 4. Initiate the payout. Amounts are held in pounds; Stripe wants pence.
	payout, err := s.payouts.CreatePayout(ctx, stripeclient.PayoutParams{
		Amount:      req.Amount.Shift(2).IntPart(),
		Currency:    payoutCurrency,
		Destination: token.ID,
		Metadata: map[string]string{
			"account_id":     accountID.String(),
			"transaction_id": txRecord.ID.String(),
		},
	})
	if err != nil {
		s.compensateWithdrawal(ctx, accountID, txRecord.ID, req.Amount)
		return nil, fmt.Errorf("payout initiation failed: %w", err)
	}

	// 5. Persist the withdrawal record and move the ledger entry to processing.
	if err := s.repo.UpdateTransactionStatus(ctx, txRecord.ID, domain.TransactionStatusProcessing); err != nil {
		log.Printf("WARN: failed to mark withdrawal tx %s processing: %v", txRecord.ID, err)
	}
	txRecord.Status = domain.TransactionStatusProcessing

	withdrawal := &domain.WithdrawalRequest{
		ID:             uuid.New(),
		AccountID:      accountID,
		TransactionID:  txRecord.ID,
		Amount:         req.Amount,
		Status:         domain.WithdrawalRecordProcessing,
		BankName:       req.BankName,
		AccountNumber:  maskAccountNumber(req.AccountNumber),
		AccountName:    req.AccountName,
		StripePayoutID: &payout.ID,
	}
	if err := s.repo.CreateWithdrawalRequest(ctx, withdrawal); err != nil {
		// Without the record the settlement webhook can never resolve the
		// payout, so the reservation is reversed even though the payout is
		// already in flight.
		log.Printf("CRITICAL: failed to persist withdrawal record for payout %s (account %s); reversing reservation: %v", payout.ID, accountID, err)
		s.compensateWithdrawal(ctx, accountID, txRecord.ID, req.Amount)
		return nil, fmt.Errorf("failed to persist withdrawal record: %w", err)
	}

	log.Printf("level=info component=service msg=\"withdrawal initiated\" account_id=%s withdrawal_id=%s payout_id=%s amount=%s", accountID, withdrawal.ID, payout.ID, req.Amount)
	return withdrawal, nil
}

// compensateWithdrawal undoes a reserved withdrawal after the payout call
// failed: the amount is credited back and the pending entry removed, so the
// account looks exactly as it did before the attempt.
func (s *Service) compensateWithdrawal(ctx context.Context, accountID, transactionID uuid.UUID, amount decimal.Decimal) {
	if _, err := s.repo.ApplyBalanceChange(ctx, accountID, amount); err != nil {
		log.Printf("CRITICAL: failed to refund %s to account %s after payout failure: %v", amount, accountID, err)
	}
	if err := s.repo.DeleteTransaction(ctx, transactionID); err != nil {
		log.Printf("CRITICAL: failed to remove pending withdrawal tx %s after payout failure: %v", transactionID, err)
	}
}

// maskAccountNumber keeps only the last four digits for display and storage.
func maskAccountNumber(accountNumber string) string {
	if len(accountNumber) <= 4 {
		return accountNumber
	}
	return "****" + accountNumber[len(accountNumber)-4:]
}
