/**
 * @description
 * This file implements Stripe webhook signature verification. Stripe signs
 * each delivery with an HMAC-SHA256 over "<timestamp>.<payload>" using the
 * endpoint secret, and sends the result in the Stripe-Signature header as
 * "t=<timestamp>,v1=<hex>". ConstructEvent rejects payloads whose signature
 * does not verify or whose timestamp falls outside the replay tolerance.
 */
package stripeclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultWebhookTolerance bounds how old a signed payload may be.
const DefaultWebhookTolerance = 5 * time.Minute

var (
	ErrInvalidSignatureHeader = errors.New("webhook signature header is malformed")
	ErrSignatureMismatch      = errors.New("webhook signature verification failed")
	ErrTimestampOutOfRange    = errors.New("webhook timestamp outside of tolerance")
)

// Event is a verified Stripe webhook event envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Raw json.RawMessage `json:"object"`
	} `json:"data"`
}

// ConstructEvent verifies the Stripe-Signature header against the raw payload
// and, on success, parses the event envelope.
func ConstructEvent(payload []byte, sigHeader, secret string) (Event, error) {
	return ConstructEventWithTolerance(payload, sigHeader, secret, DefaultWebhookTolerance)
}

// ConstructEventWithTolerance is ConstructEvent with an explicit replay tolerance.
func ConstructEventWithTolerance(payload []byte, sigHeader, secret string, tolerance time.Duration) (Event, error) {
	var event Event

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return event, err
	}

	if tolerance > 0 {
		age := time.Since(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return event, ErrTimestampOutOfRange
		}
	}

	expected := computeSignature(timestamp, payload, secret)
	valid := false
	for _, sig := range signatures {
		decoded, decodeErr := hex.DecodeString(sig)
		if decodeErr != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			valid = true
			break
		}
	}
	if !valid {
		return event, ErrSignatureMismatch
	}

	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return event, nil
}

// parseSignatureHeader extracts the timestamp and all v1 signatures from a
// "t=...,v1=...,v1=..." header.
func parseSignatureHeader(header string) (int64, []string, error) {
	var timestamp int64 = -1
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			parsed, err := strconv.ParseInt(pair[1], 10, 64)
			if err != nil {
				return 0, nil, ErrInvalidSignatureHeader
			}
			timestamp = parsed
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}

	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, ErrInvalidSignatureHeader
	}
	return timestamp, signatures, nil
}

func computeSignature(timestamp int64, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignPayload produces a valid Stripe-Signature header for a payload. Used by
// tests and local tooling to simulate deliveries.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	sig := computeSignature(ts, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(sig))
}
