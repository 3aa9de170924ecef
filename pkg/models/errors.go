package models

import "fmt"

// ErrorKind enumerates the seven error kinds of spec §7.
type ErrorKind string

const (
	ErrValidation        ErrorKind = "validation_error"
	ErrProviderConfig    ErrorKind = "provider_config_error"
	ErrRateLimitExceeded ErrorKind = "rate_limit_exceeded"
	ErrToolTimeout       ErrorKind = "tool_timeout"
	ErrToolTransport     ErrorKind = "tool_transport_error"
	ErrToolReported      ErrorKind = "tool_reported_error"
	ErrModelStream       ErrorKind = "model_stream_error"
	ErrAborted           ErrorKind = "aborted"
	ErrInternal          ErrorKind = "internal_error"
)

// APIError is the stable JSON error shape required by spec §7.7:
// {error: {name, message, code, statusCode}}.
type APIError struct {
	Kind       ErrorKind `json:"-"`
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	StatusCode int       `json:"statusCode"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// NewAPIError builds an APIError for the given kind with its conventional
// HTTP status code.
func NewAPIError(kind ErrorKind, message string) *APIError {
	return &APIError{
		Kind:       kind,
		Name:       string(kind),
		Message:    message,
		StatusCode: statusForKind(kind),
	}
}

func statusForKind(kind ErrorKind) int {
	switch kind {
	case ErrValidation, ErrProviderConfig:
		return 400
	case ErrRateLimitExceeded:
		return 429
	case ErrInternal:
		return 500
	default:
		// Tool-layer and model/transport-layer kinds never reach HTTP directly
		// (spec §7 propagation policy) but get a sane default if they do.
		return 500
	}
}

// RateLimitExceededError carries the structured {count, limit} payload
// spec §7.3 and §8 scenario 6 require on the 429 response.
type RateLimitExceededError struct {
	*APIError
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// NewRateLimitExceededError builds the 429 error body.
func NewRateLimitExceededError(count, limit int) *RateLimitExceededError {
	return &RateLimitExceededError{
		APIError: NewAPIError(ErrRateLimitExceeded, fmt.Sprintf("daily limit of %d requests exceeded", limit)),
		Count:    count,
		Limit:    limit,
	}
}
