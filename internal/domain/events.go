package domain

import (
	"time"

	"github.com/google/uuid"
)

// RegistrationConfirmedEvent is published after a paid registration commits.
// The commission distributor consumes it asynchronously; delivery is
// at-least-once, so handling must be idempotent.
type RegistrationConfirmedEvent struct {
	AccountID uuid.UUID `json:"account_id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// PayoutStatusEvent carries the outcome of an external payout, keyed by the
// provider's payout id. Published by the webhook endpoint, consumed by the
// settlement reconciler.
type PayoutStatusEvent struct {
	PayoutID      string    `json:"payout_id"`
	Status        string    `json:"status"` // 'paid', 'failed'
	FailureReason string    `json:"failure_reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
