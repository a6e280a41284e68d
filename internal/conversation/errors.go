package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/internal/leads"
	"github.com/wolfman30/lead-reengage/internal/messaging"
	"github.com/wolfman30/lead-reengage/internal/response"
)

// Kind classifies failures surfaced by the Orchestrator.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindComplianceBlocked   Kind = "compliance_blocked"
	KindGenerationTimeout   Kind = "generation_timeout"
	KindGenerationInvalid   Kind = "generation_invalid"
	KindDeliveryFailure     Kind = "delivery_failure"
	KindPersistenceConflict Kind = "persistence_conflict"
	KindUnknownIntent       Kind = "unknown_intent"
	KindTransient           Kind = "transient"
)

// Error is the error type returned by Orchestrator operations.
type Error struct {
	Kind   Kind
	Op     string
	LeadID string
	Err    error
}

func (e *Error) Error() string {
	if e.LeadID != "" {
		return fmt.Sprintf("conversation: %s: lead %s: %s: %v", e.Op, e.LeadID, e.Kind, e.Err)
	}
	return fmt.Sprintf("conversation: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op, leadID string, err error) *Error {
	return &Error{Kind: kind, Op: op, LeadID: leadID, Err: err}
}

// KindOf returns the Kind of err, classifying unwrapped collaborator errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, events.ErrInvalidEvent), errors.Is(err, leads.ErrMissingLeadID):
		return KindValidation
	case errors.Is(err, leads.ErrVersionConflict):
		return KindPersistenceConflict
	case errors.Is(err, response.ErrGenerationTimeout):
		return KindGenerationTimeout
	case errors.Is(err, response.ErrGenerationInvalid):
		return KindGenerationInvalid
	case errors.Is(err, messaging.ErrRejected), errors.Is(err, messaging.ErrDeliveryInFlight):
		return KindDeliveryFailure
	}
	return KindTransient
}

// Retryable reports whether redelivering the event could succeed. Validation
// errors and provider rejections are permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch KindOf(err) {
	case KindValidation, KindComplianceBlocked, KindUnknownIntent:
		return false
	case KindDeliveryFailure:
		return !errors.Is(err, ErrDeliveryAbandoned) && !errors.Is(err, messaging.ErrRejected) &&
			!errors.Is(err, messaging.ErrInvalidDelivery) && !errors.Is(err, messaging.ErrUnsupportedChannel)
	}
	return true
}
