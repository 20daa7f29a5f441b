package models

import "errors"

// Error kinds shared across stages. Callers wrap them with context and the
// invocation boundary matches them with errors.Is.
var (
	ErrMalformedRequest    = errors.New("malformed request")
	ErrEmptyPayload        = errors.New("empty payload")
	ErrInvalidEncoding     = errors.New("invalid base64 encoding")
	ErrInvalidImage        = errors.New("invalid image")
	ErrInvalidTrigger      = errors.New("invalid trigger event")
	ErrMissingField        = errors.New("missing field")
	ErrInvalidLocator      = errors.New("invalid object locator")
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrStorageWrite        = errors.New("storage write failed")
)

// IsClientError reports whether err belongs to the validation class that is
// answered with a 400.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedRequest) ||
		errors.Is(err, ErrEmptyPayload) ||
		errors.Is(err, ErrInvalidEncoding) ||
		errors.Is(err, ErrInvalidImage)
}
