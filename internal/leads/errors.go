package leads

import "errors"

var (
	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")

	// ErrMissingLeadID is returned when an automation write has no lead
	ErrMissingLeadID = errors.New("lead id is required")
)
