package stripeclient

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "whsec_test_secret"

var payoutPaidPayload = []byte(`{
	"id": "evt_1",
	"type": "payout.paid",
	"data": {"object": {"id": "po_1", "status": "paid"}}
}`)

func TestConstructEvent_ValidSignature(t *testing.T) {
	header := SignPayload(payoutPaidPayload, testSecret, time.Now())

	event, err := ConstructEvent(payoutPaidPayload, header, testSecret)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if event.ID != "evt_1" || event.Type != "payout.paid" {
		t.Fatalf("unexpected event envelope: %+v", event)
	}
	if len(event.Data.Raw) == 0 {
		t.Fatal("expected raw payout object to be captured")
	}
}

func TestConstructEvent_WrongSecretRejected(t *testing.T) {
	header := SignPayload(payoutPaidPayload, "whsec_other", time.Now())

	if _, err := ConstructEvent(payoutPaidPayload, header, testSecret); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestConstructEvent_TamperedPayloadRejected(t *testing.T) {
	header := SignPayload(payoutPaidPayload, testSecret, time.Now())
	tampered := []byte(`{"id": "evt_1", "type": "payout.paid", "data": {"object": {"id": "po_other"}}}`)

	if _, err := ConstructEvent(tampered, header, testSecret); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestConstructEvent_StaleTimestampRejected(t *testing.T) {
	header := SignPayload(payoutPaidPayload, testSecret, time.Now().Add(-time.Hour))

	if _, err := ConstructEvent(payoutPaidPayload, header, testSecret); !errors.Is(err, ErrTimestampOutOfRange) {
		t.Fatalf("expected ErrTimestampOutOfRange, got %v", err)
	}
}

func TestConstructEvent_MalformedHeaderRejected(t *testing.T) {
	for _, header := range []string{"", "t=notanumber,v1=aa", "v1=deadbeef", "t=123"} {
		if _, err := ConstructEvent(payoutPaidPayload, header, testSecret); !errors.Is(err, ErrInvalidSignatureHeader) {
			t.Fatalf("expected ErrInvalidSignatureHeader for %q, got %v", header, err)
		}
	}
}

func TestConstructEvent_SecondV1SignatureAccepted(t *testing.T) {
	// Stripe sends multiple v1 entries during secret rotation.
	now := time.Now()
	rotated := SignPayload(payoutPaidPayload, "whsec_old", now)
	valid := SignPayload(payoutPaidPayload, testSecret, now)
	combined := rotated + valid[strings.Index(valid, ",v1="):]

	if _, err := ConstructEvent(payoutPaidPayload, combined, testSecret); err != nil {
		t.Fatalf("expected rotation header to verify, got %v", err)
	}
}
