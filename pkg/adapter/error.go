package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failed provider call.
type Kind string

const (
	// KindAuth means the provider rejected or is missing a credential.
	KindAuth Kind = "auth_error"
	// KindRateLimited means the provider answered 429.
	KindRateLimited Kind = "rate_limited"
	// KindTimeout means the call exceeded its deadline before a response arrived.
	KindTimeout Kind = "timeout"
	// KindProvider covers every other non-2xx status and malformed bodies.
	KindProvider Kind = "provider_error"
)

// Describe returns a user-facing explanation of the failure kind.
func (k Kind) Describe() string {
	switch k {
	case KindAuth:
		return "the provider rejected the configured credentials"
	case KindRateLimited:
		return "the provider is rate-limiting requests"
	case KindTimeout:
		return "the provider did not respond in time"
	default:
		return "the provider returned an error or an unreadable response"
	}
}

// Error wraps provider errors with status metadata.
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Err.Error())
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status=%d)", e.Provider, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindProvider
	}
}

// StatusError builds an *Error for a non-2xx provider response.
func StatusError(provider string, status int, err error) *Error {
	return &Error{Kind: KindForStatus(status), Provider: provider, Status: status, Err: err}
}

// ProviderError builds an *Error for malformed or unexpected responses.
func ProviderError(provider string, format string, args ...any) *Error {
	return &Error{Kind: KindProvider, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// Classify reports the failure kind of any error returned from Generate.
// Unknown errors are treated as provider errors.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var adapterErr *Error
	if errors.As(err, &adapterErr) && adapterErr.Kind != "" {
		return adapterErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindProvider
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var adapterErr *Error
	if errors.As(err, &adapterErr) {
		return adapterErr.Status
	}
	return 0
}

// IsTransient reports whether an error is safe for a caller to retry.
// Adapters never retry on their own.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch Classify(err) {
	case KindTimeout, KindRateLimited:
		return true
	}
	status := StatusOf(err)
	return status >= 500 && status <= 599
}
