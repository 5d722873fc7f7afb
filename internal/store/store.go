// ABOUTME: Store interface and outcome types for session bookkeeping
// ABOUTME: Defines the outcome labels shared by the relay, the store and the stats API

package store

import (
	"context"
	"time"
)

// Outcome labels.
const (
	OutcomeReplied           = "replied"
	OutcomeTimeout           = "timeout"
	OutcomeConnectionFailure = "connection_failure"
	OutcomeBackendError      = "backend_error"
	OutcomeProtocolClosed    = "protocol_closed"
	OutcomeEmptyReply        = "empty_reply"
	OutcomeUnavailable       = "unavailable"
	OutcomeCanceled          = "canceled"
	OutcomeFailed            = "failed"
)

// SessionOutcome is the record of one processed message.
type SessionOutcome struct {
	ID          string
	MessageID   string
	SenderID    string
	Kind        string
	Outcome     string
	ReplyLength int
	Duration    time.Duration
	CreatedAt   time.Time
}

// Store persists session outcomes.
type Store interface {
	// RecordOutcome saves o. Empty ID and zero CreatedAt are filled in.
	RecordOutcome(ctx context.Context, o *SessionOutcome) error

	// CountOutcomes returns the number of outcomes per label recorded at or after since.
	CountOutcomes(ctx context.Context, since time.Time) (map[string]int, error)

	// ListOutcomes returns the most recent outcomes, newest first.
	ListOutcomes(ctx context.Context, limit int) ([]*SessionOutcome, error)

	Close() error
}
