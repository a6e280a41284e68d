package leads

import "errors"

var (
	// ErrLeadNotFound is returned when no conversation context exists for a lead
	ErrLeadNotFound = errors.New("leads: lead not found")

	// ErrVersionConflict is returned by Save when the stored version differs
	// from the caller's expected version
	ErrVersionConflict = errors.New("leads: version conflict")

	// ErrMissingLeadID is returned when a context has no lead id
	ErrMissingLeadID = errors.New("leads: lead id is required")

	// ErrUnknownField is returned when a required qualification field is not
	// one of KnownFields
	ErrUnknownField = errors.New("leads: unknown qualification field")
)
