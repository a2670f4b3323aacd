package app

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/refpay/ledger-service/internal/domain"
)

const consumerTimeout = 15 * time.Second

// RegistrationConsumer feeds confirmed registrations into the commission distributor.
type RegistrationConsumer struct {
	distributor *CommissionDistributor
}

func NewRegistrationConsumer(distributor *CommissionDistributor) *RegistrationConsumer {
	return &RegistrationConsumer{distributor: distributor}
}

// HandleMessage returns true to ack a delivery and false to requeue it.
func (c *RegistrationConsumer) HandleMessage(body []byte) bool {
	var event domain.RegistrationConfirmedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("registration-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.AccountID == uuid.Nil {
		log.Printf("registration-consumer: missing account id in event %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if err := c.distributor.Distribute(ctx, event.AccountID); err != nil {
		log.Printf("registration-consumer: distribution error for account %s: %v", event.AccountID, err)
		return false
	}

	return true
}

// PayoutStatusConsumer feeds payout outcomes into the settlement reconciler.
type PayoutStatusConsumer struct {
	reconciler *SettlementReconciler
}

func NewPayoutStatusConsumer(reconciler *SettlementReconciler) *PayoutStatusConsumer {
	return &PayoutStatusConsumer{reconciler: reconciler}
}

// HandleMessage returns true to ack a delivery and false to requeue it.
func (c *PayoutStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.PayoutStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("payout-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if strings.TrimSpace(event.PayoutID) == "" {
		log.Printf("payout-consumer: missing payout id in event %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if err := c.reconciler.Settle(ctx, event.PayoutID, event.Status, event.FailureReason); err != nil {
		log.Printf("payout-consumer: settlement error for payout %s: %v", event.PayoutID, err)
		return false
	}

	return true
}
