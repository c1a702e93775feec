package pipeline

import (
	"fmt"
	"time"
)

// Kind is the category of a pipeline failure. Callers branch on Kind, never
// on message text.
type Kind int

const (
	InvalidInput Kind = iota + 1
	ServiceUnavailable
	RateLimited
	ProviderError
	UpstreamEmptyResponse
	TranscodeUnavailable
	Unexpected
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case ServiceUnavailable:
		return "service_unavailable"
	case RateLimited:
		return "rate_limited"
	case ProviderError:
		return "provider_error"
	case UpstreamEmptyResponse:
		return "upstream_empty_response"
	case TranscodeUnavailable:
		return "transcode_unavailable"
	case Unexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Error is returned by Synthesize for every failure. Status is the HTTP
// status to surface. RetryAfter, Limit and Window are only set for
// RateLimited.
type Error struct {
	Kind       Kind
	Status     int
	Message    string
	Details    string
	RetryAfter time.Duration
	Limit      int
	Window     time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ledgerMessage is the text recorded on the failed ledger row.
func (e *Error) ledgerMessage() string {
	if e.Details != "" {
		return e.Details
	}
	return e.Message
}
