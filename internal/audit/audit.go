// Package audit records authorization decision events.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Check names the decision point an event came from.
type Check string

const (
	CheckPreAuthorize  Check = "pre_authorize"
	CheckPreFilter     Check = "pre_filter"
	CheckPostAuthorize Check = "post_authorize"
	CheckPostFilter    Check = "post_filter"
	CheckRequest       Check = "request"
)

// Outcome is the decision result recorded for an event.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
	OutcomeFault Outcome = "fault"
)

// Event is one recorded decision. Deny events identify the expression only
// by its configured ID; they never record why the expression denied.
type Event struct {
	EventID      string    `json:"eventId"`
	Timestamp    time.Time `json:"timestamp"`
	Check        Check     `json:"check"`
	ExpressionID string    `json:"expressionId"`
	Outcome      Outcome   `json:"outcome"`
	Principal    string    `json:"principal"`
	// Fault carries the fault message for fault outcomes only.
	Fault string `json:"fault,omitempty"`
}

// NewEvent stamps a decision event with an ID and timestamp.
func NewEvent(check Check, expressionID string, outcome Outcome, principal string) Event {
	return Event{
		EventID:      uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Check:        check,
		ExpressionID: expressionID,
		Outcome:      outcome,
		Principal:    principal,
	}
}

// Logger records decision events. Implementations must be safe for
// concurrent use and must not block the decision path.
type Logger interface {
	Log(event Event)
	Close() error
}

// Nop discards all events.
type Nop struct{}

func (Nop) Log(Event) {}

func (Nop) Close() error { return nil }
