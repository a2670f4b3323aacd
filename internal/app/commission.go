/**
 * @description
 * This file implements multi-level referral commission distribution. When a
 * paid registration is confirmed, the fee is split across the new account's
 * referrer chain: six fixed percentage tiers, nearest referrer first. Each
 * commission is a completed ledger entry plus a balance credit on the
 * receiving account.
 *
 * Distribution is guarded by a one-shot flag on the registered account so that
 * redelivered registration events never pay a chain twice.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal.
 * - internal/domain, internal/store.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/refpay/ledger-service/internal/domain"
	"github.com/refpay/ledger-service/internal/store"
)

// commissionRates maps referral depth (index 0 = direct referrer) to the
// share of the registration fee that tier receives. The tiers sum to 1.00, so
// a full six-level chain pays out exactly the fee.
var commissionRates = []decimal.Decimal{
	decimal.NewFromFloat(0.50),
	decimal.NewFromFloat(0.25),
	decimal.NewFromFloat(0.15),
	decimal.NewFromFloat(0.05),
	decimal.NewFromFloat(0.03),
	decimal.NewFromFloat(0.02),
}

// CommissionDistributor pays referral commissions for confirmed registrations.
type CommissionDistributor struct {
	repo            store.Repository
	registrationFee decimal.Decimal
}

// NewCommissionDistributor creates a distributor. The fee is given in pence
// and converted once to pounds, the unit ledger amounts are held in.
func NewCommissionDistributor(repo store.Repository, registrationFeePence int64) *CommissionDistributor {
	return &CommissionDistributor{
		repo:            repo,
		registrationFee: decimal.NewFromInt(registrationFeePence).Shift(-2),
	}
}

// Distribute walks the referrer chain of a newly registered account and
// credits each tier. It is idempotent: only the caller that wins the
// distribution flag pays anything, every later call is a no-op.
func (d *CommissionDistributor) Distribute(ctx context.Context, accountID uuid.UUID) error {
	won, err := d.repo.MarkCommissionDistributed(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			log.Printf("level=warn component=commission msg=\"registered account not found; dropping\" account_id=%s", accountID)
			return nil
		}
		return fmt.Errorf("failed to claim distribution flag: %w", err)
	}
	if !won {
		log.Printf("level=info component=commission msg=\"commission already distributed; skipping\" account_id=%s", accountID)
		return nil
	}

	account, err := d.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load registered account: %w", err)
	}

	currentReferrerID := account.ReferrerID
	for level := 1; level <= len(commissionRates); level++ {
		if currentReferrerID == nil {
			break
		}

		referrer, err := d.repo.FindAccountByID(ctx, *currentReferrerID)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				// A broken chain means data loss upstream; pay what we can
				// reach and stop walking.
				log.Printf("level=error component=commission msg=\"referral chain broken\" account_id=%s level=%d missing_referrer=%s", accountID, level, *currentReferrerID)
				return nil
			}
			return fmt.Errorf("failed to load level %d referrer: %w", level, err)
		}

		amount := d.registrationFee.Mul(commissionRates[level-1]).Round(2)
		if err := d.payCommission(ctx, referrer.ID, amount, level, account.Username); err != nil {
			return err
		}

		log.Printf("level=info component=commission msg=\"commission paid\" account_id=%s referrer_id=%s level=%d amount=%s", accountID, referrer.ID, level, amount)
		currentReferrerID = referrer.ReferrerID
	}

	return nil
}

// payCommission records the commission ledger entry and credits the balance
// in one store transaction, so an entry can never exist without its credit.
func (d *CommissionDistributor) payCommission(ctx context.Context, referrerID uuid.UUID, amount decimal.Decimal, level int, registeredUsername string) error {
	txRecord := &domain.Transaction{
		ID:        uuid.New(),
		AccountID: referrerID,
		Type:      domain.TransactionTypeCommission,
		Amount:    amount,
		Status:    domain.TransactionStatusCompleted,
		Reference: fmt.Sprintf("Commission from Level %d referral: %s", level, registeredUsername),
	}
	if err := d.repo.CreateTransactionWithBalanceChange(ctx, txRecord); err != nil {
		return fmt.Errorf("failed to pay level %d commission: %w", level, err)
	}

	return nil
}
