package llm

import (
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed, so the agent
// loop and model registry can decide whether to retry or give up.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverUnknown          FailoverReason = "unknown"
)

// IsRetryable reports whether retrying the same provider/model may help.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error surfaced by any Provider
// implementation, carrying enough context for retry/logging decisions.
type ProviderError struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// reasonForStatus classifies an HTTP status code the way every HTTP-backed
// provider in this package needs to, so the classification logic lives in
// one place instead of being repeated per vendor.
func reasonForStatus(status int) FailoverReason {
	switch {
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusRequestTimeout:
		return FailoverTimeout
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

// JSONError wraps a malformed-JSON condition: HTTPProvider.Chat returns it
// when a response body does not decode. The streaming parser does not use
// it; it skips a malformed chunk and keeps going.
type JSONError struct {
	Raw   string
	Cause error
}

func (e *JSONError) Error() string {
	return fmt.Sprintf("llm: malformed json chunk: %v (raw=%q)", e.Cause, e.Raw)
}

func (e *JSONError) Unwrap() error { return e.Cause }
