/**
 * @description
 * This file implements the Stripe webhook endpoint. Deliveries are verified
 * against the endpoint secret, payout outcome events are re-published onto the
 * message broker for the settlement reconciler, and everything else is
 * acknowledged without side effects so Stripe stops retrying.
 *
 * @dependencies
 * - encoding/json, io, net/http, time: Standard Go libraries.
 * - pkg/rabbitmq, pkg/stripeclient.
 */

package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/refpay/ledger-service/pkg/rabbitmq"
	"github.com/refpay/ledger-service/pkg/stripeclient"
)

// payoutEventPublisher is the broker surface the webhook endpoint needs.
type payoutEventPublisher interface {
	PublishPayoutStatus(ctx context.Context, event rabbitmq.PayoutStatusEvent) error
}

// maxWebhookBody bounds how much of a delivery we are willing to read.
const maxWebhookBody = 1 << 20

// stripePayout is the payout object embedded in payout.* events.
type stripePayout struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FailureMessage string `json:"failure_message"`
}

// StripeWebhookHandler receives signed Stripe event deliveries.
func (h *LedgerHandlers) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Unable to read payload")
		return
	}

	event, err := stripeclient.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		log.Printf("level=warn component=api endpoint=stripe_webhook msg=\"signature verification failed\" err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	switch event.Type {
	case "payout.paid", "payout.failed":
		if err := h.handlePayoutEvent(r.Context(), event); err != nil {
			// Let Stripe retry the delivery.
			log.Printf("level=error component=api endpoint=stripe_webhook event_id=%s err=%v", event.ID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to process event")
			return
		}
	default:
		// Subscribed but unhandled event types are acknowledged as-is.
		log.Printf("level=info component=api endpoint=stripe_webhook msg=\"ignoring event\" event_id=%s type=%s", event.ID, event.Type)
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}

// handlePayoutEvent turns a payout.* event into a broker message for the
// settlement reconciler.
func (h *LedgerHandlers) handlePayoutEvent(ctx context.Context, event stripeclient.Event) error {
	var payout stripePayout
	if err := json.Unmarshal(event.Data.Raw, &payout); err != nil {
		// A malformed object will never get better on retry; drop it.
		log.Printf("level=warn component=api endpoint=stripe_webhook msg=\"unparsable payout object; dropping\" event_id=%s err=%v", event.ID, err)
		return nil
	}
	if payout.ID == "" {
		log.Printf("level=warn component=api endpoint=stripe_webhook msg=\"payout event without id; dropping\" event_id=%s", event.ID)
		return nil
	}

	status := "paid"
	if event.Type == "payout.failed" {
		status = "failed"
	}

	return h.publisher.PublishPayoutStatus(ctx, rabbitmq.PayoutStatusEvent{
		PayoutID:      payout.ID,
		Status:        status,
		FailureReason: payout.FailureMessage,
		Timestamp:     time.Now().UTC(),
	})
}
