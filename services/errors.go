package services

import "errors"

// Sentinel errors surfaced by the service layer. Handlers map these to
// HTTP statuses.
var (
	ErrReportNotFound   = errors.New("report not found")
	ErrMemberNotFound   = errors.New("member not found")
	ErrInvalidID        = errors.New("invalid id")
	ErrEmptyQuery       = errors.New("query must not be empty")
	ErrMissingFields    = errors.New("missing required fields")
	ErrEmptyDocument    = errors.New("document text must not be empty")
	ErrReportProcessing = errors.New("report is still processing")
)
