/**
 * @description
 * This file implements settlement of in-flight withdrawals from payout status
 * notifications. A 'paid' outcome finalizes the withdrawal and its ledger
 * entry; a 'failed' outcome finalizes both as failed and refunds the reserved
 * amount.
 *
 * Each outcome is applied by a single store transaction. The withdrawal
 * record's processing -> terminal transition inside that transaction is the
 * replay guard: duplicate or out-of-order notifications settle nothing twice,
 * and a transient failure rolls the whole unit back so redelivery retries it.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - internal/domain, internal/store.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/refpay/ledger-service/internal/domain"
	"github.com/refpay/ledger-service/internal/store"
)

// SettlementReconciler resolves in-flight withdrawals against payout outcomes.
type SettlementReconciler struct {
	repo store.Repository
}

func NewSettlementReconciler(repo store.Repository) *SettlementReconciler {
	return &SettlementReconciler{repo: repo}
}

// Settle applies one payout outcome. Unknown payout ids and already-settled
// withdrawals are dropped without error so redeliveries drain cleanly.
func (r *SettlementReconciler) Settle(ctx context.Context, payoutID, status, failureReason string) error {
	withdrawal, err := r.repo.FindWithdrawalByPayoutID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, store.ErrWithdrawalNotFound) {
			log.Printf("level=warn component=settlement msg=\"no withdrawal for payout; dropping\" payout_id=%s", payoutID)
			return nil
		}
		return fmt.Errorf("failed to look up withdrawal for payout %s: %w", payoutID, err)
	}

	switch status {
	case "paid":
		return r.settlePaid(ctx, withdrawal)
	case "failed":
		return r.settleFailed(ctx, withdrawal, failureReason)
	default:
		log.Printf("level=warn component=settlement msg=\"unknown payout status; dropping\" payout_id=%s status=%s", payoutID, status)
		return nil
	}
}

// settlePaid finalizes a successful payout. The balance was already reduced
// when the withdrawal was reserved, so no money moves here.
func (r *SettlementReconciler) settlePaid(ctx context.Context, withdrawal *domain.WithdrawalRequest) error {
	if err := r.repo.SettleWithdrawalPaid(ctx, withdrawal.ID); err != nil {
		if errors.Is(err, store.ErrWithdrawalSettled) {
			log.Printf("level=info component=settlement msg=\"withdrawal already settled; skipping\" withdrawal_id=%s", withdrawal.ID)
			return nil
		}
		return fmt.Errorf("failed to settle withdrawal %s as paid: %w", withdrawal.ID, err)
	}

	log.Printf("level=info component=settlement msg=\"withdrawal paid\" withdrawal_id=%s account_id=%s amount=%s", withdrawal.ID, withdrawal.AccountID, withdrawal.Amount)
	return nil
}

// settleFailed finalizes a failed payout. The store applies the terminal
// transition, the ledger entry failure, and the refund credit as one unit: a
// replayed failure event cannot credit the account twice, and a transient
// failure leaves the record in 'processing' so redelivery retries the refund.
func (r *SettlementReconciler) settleFailed(ctx context.Context, withdrawal *domain.WithdrawalRequest, failureReason string) error {
	if err := r.repo.SettleWithdrawalFailed(ctx, withdrawal.ID); err != nil {
		if errors.Is(err, store.ErrWithdrawalSettled) {
			log.Printf("level=info component=settlement msg=\"withdrawal already settled; skipping refund\" withdrawal_id=%s", withdrawal.ID)
			return nil
		}
		return fmt.Errorf("failed to settle withdrawal %s as failed: %w", withdrawal.ID, err)
	}

	log.Printf("level=info component=settlement msg=\"withdrawal failed; refunded\" withdrawal_id=%s account_id=%s amount=%s reason=%q", withdrawal.ID, withdrawal.AccountID, withdrawal.Amount, failureReason)
	return nil
}
