// Error taxonomy for provider calls.
//
// Every failure surfaced by this package is a kind-tagged *Error; callers
// branch on the kind (or on IsRetriable) rather than on concrete vendor
// error types.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/ahleung/storylens/breaker"
)

// ErrorKind classifies a provider-call failure.
type ErrorKind int

const (
	// KindConfiguration is a caller/setup problem; never retried.
	KindConfiguration ErrorKind = iota
	// KindRateLimit is an HTTP 429; retried with backoff.
	KindRateLimit
	// KindTimeout is a deadline expiry; retried.
	KindTimeout
	// KindProvider is any other upstream failure; Retriable distinguishes
	// transient (5xx, 408) from permanent (other 4xx) cases.
	KindProvider
	// KindValidation means the payload could not be parsed into a result.
	KindValidation
	// KindBreakerOpen means the circuit rejected the call before the wire.
	KindBreakerOpen
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindProvider:
		return "provider"
	case KindValidation:
		return "validation"
	case KindBreakerOpen:
		return "breaker_open"
	default:
		return "unknown"
	}
}

// Error is a kind-tagged provider-call failure.
type Error struct {
	Kind      ErrorKind
	Provider  string
	Status    int
	Retriable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Provider != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Provider)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s [status %d]", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap supports errors.Is/As on the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigError creates a non-retriable configuration error.
func NewConfigError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Err: fmt.Errorf(format, args...)}
}

// NewValidationError creates a validation error for an unparseable payload.
func NewValidationError(provider string, err error) *Error {
	return &Error{Kind: KindValidation, Provider: provider, Err: err}
}

// KindOf extracts the error kind, reporting false for foreign errors.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsRetriable reports whether a retry could plausibly succeed.
func IsRetriable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindRateLimit, KindTimeout:
		return true
	case KindProvider:
		return e.Retriable
	default:
		return false
	}
}

// Classify converts an arbitrary call failure into a kind-tagged *Error.
// Already-classified errors pass through unchanged.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}

	if errors.Is(err, breaker.ErrOpen) {
		return &Error{Kind: KindBreakerOpen, Provider: provider, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: provider, Retriable: true, Err: err}
	}
	// Caller cancellation is terminal; retrying against a dead context is
	// pointless.
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindProvider, Provider: provider, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Provider: provider, Retriable: true, Err: err}
	}

	if status, ok := vendorStatus(err); ok {
		return classifyStatus(provider, status, err)
	}

	// Unclassifiable transport failures count as retriable provider errors:
	// connection resets and DNS hiccups behave like 5xx in practice.
	return &Error{Kind: KindProvider, Provider: provider, Retriable: true, Err: err}
}

// vendorStatus digs the HTTP status out of the vendor SDK error types.
func vendorStatus(err error) (int, bool) {
	var oaiAPIErr *openai.APIError
	if errors.As(err, &oaiAPIErr) {
		return oaiAPIErr.HTTPStatusCode, true
	}
	var oaiReqErr *openai.RequestError
	if errors.As(err, &oaiReqErr) {
		return oaiReqErr.HTTPStatusCode, true
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode, true
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return genaiErr.Code, true
	}
	return 0, false
}

func classifyStatus(provider string, status int, err error) *Error {
	switch {
	case status == 429:
		return &Error{Kind: KindRateLimit, Provider: provider, Status: status, Retriable: true, Err: err}
	case status >= 500 || status == 408:
		return &Error{Kind: KindProvider, Provider: provider, Status: status, Retriable: true, Err: err}
	case status == 401 || status == 403:
		return &Error{Kind: KindConfiguration, Provider: provider, Status: status, Err: err}
	default:
		return &Error{Kind: KindProvider, Provider: provider, Status: status, Err: err}
	}
}
