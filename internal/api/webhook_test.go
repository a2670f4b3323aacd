package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/refpay/ledger-service/pkg/rabbitmq"
	"github.com/refpay/ledger-service/pkg/stripeclient"
)

const webhookTestSecret = "whsec_handler_test"

type capturingPublisher struct {
	events []rabbitmq.PayoutStatusEvent
	err    error
}

func (p *capturingPublisher) PublishPayoutStatus(ctx context.Context, event rabbitmq.PayoutStatusEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func newWebhookHandlers(publisher payoutEventPublisher) *LedgerHandlers {
	return NewLedgerHandlers(nil, "jwt-secret", webhookTestSecret, publisher)
}

func postWebhook(t *testing.T, h *LedgerHandlers, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.StripeWebhookHandler(rec, req)
	return rec
}

func TestStripeWebhookHandler_PayoutFailedPublished(t *testing.T) {
	payload := []byte(`{
		"id": "evt_fail",
		"type": "payout.failed",
		"data": {"object": {"id": "po_fail", "status": "failed", "failure_message": "account closed"}}
	}`)
	publisher := &capturingPublisher{}
	h := newWebhookHandlers(publisher)

	rec := postWebhook(t, h, payload, stripeclient.SignPayload(payload, webhookTestSecret, time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.PayoutID != "po_fail" || event.Status != "failed" || event.FailureReason != "account closed" {
		t.Fatalf("unexpected published event: %+v", event)
	}
}

func TestStripeWebhookHandler_PayoutPaidPublished(t *testing.T) {
	payload := []byte(`{
		"id": "evt_paid",
		"type": "payout.paid",
		"data": {"object": {"id": "po_paid", "status": "paid"}}
	}`)
	publisher := &capturingPublisher{}
	h := newWebhookHandlers(publisher)

	rec := postWebhook(t, h, payload, stripeclient.SignPayload(payload, webhookTestSecret, time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(publisher.events) != 1 || publisher.events[0].Status != "paid" {
		t.Fatalf("expected one paid event, got %+v", publisher.events)
	}
}

func TestStripeWebhookHandler_InvalidSignatureRejected(t *testing.T) {
	payload := []byte(`{"id": "evt_x", "type": "payout.paid", "data": {"object": {"id": "po_x"}}}`)
	publisher := &capturingPublisher{}
	h := newWebhookHandlers(publisher)

	rec := postWebhook(t, h, payload, stripeclient.SignPayload(payload, "whsec_wrong", time.Now()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rec.Code)
	}
	if len(publisher.events) != 0 {
		t.Fatal("expected no published events for unverified payload")
	}
}

func TestStripeWebhookHandler_MissingSignatureRejected(t *testing.T) {
	payload := []byte(`{"id": "evt_x", "type": "payout.paid"}`)
	h := newWebhookHandlers(&capturingPublisher{})

	rec := postWebhook(t, h, payload, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", rec.Code)
	}
}

func TestStripeWebhookHandler_UnhandledEventAcknowledged(t *testing.T) {
	payload := []byte(`{
		"id": "evt_other",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1"}}
	}`)
	publisher := &capturingPublisher{}
	h := newWebhookHandlers(publisher)

	rec := postWebhook(t, h, payload, stripeclient.SignPayload(payload, webhookTestSecret, time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unhandled event, got %d", rec.Code)
	}
	if len(publisher.events) != 0 {
		t.Fatal("expected no published events for unhandled type")
	}
}

func TestStripeWebhookHandler_PayoutWithoutIDDropped(t *testing.T) {
	payload := []byte(`{
		"id": "evt_noid",
		"type": "payout.paid",
		"data": {"object": {"status": "paid"}}
	}`)
	publisher := &capturingPublisher{}
	h := newWebhookHandlers(publisher)

	rec := postWebhook(t, h, payload, stripeclient.SignPayload(payload, webhookTestSecret, time.Now()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for dropped event, got %d", rec.Code)
	}
	if len(publisher.events) != 0 {
		t.Fatal("expected no published events without payout id")
	}
}
