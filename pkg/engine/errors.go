package engine

import (
	"errors"
	"fmt"
)

// RejectionKind classifies a request refused before any provider call.
type RejectionKind string

const (
	RejectTooManyModels  RejectionKind = "too_many_models"
	RejectNotFound       RejectionKind = "not_found"
	RejectTierRestricted RejectionKind = "tier_restricted"
	RejectInvalid        RejectionKind = "invalid_request"
	RejectRateLimited    RejectionKind = "rate_limited"
	RejectQuotaExceeded  RejectionKind = "quota_exceeded"
)

// RejectionError is returned when a request is refused before dispatch.
type RejectionError struct {
	Kind    RejectionKind
	Message string
	Err     error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

func reject(kind RejectionKind, format string, args ...any) *RejectionError {
	return &RejectionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// RejectionKindOf returns the rejection kind of err, or "" if err is not a
// rejection.
func RejectionKindOf(err error) RejectionKind {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Kind
	}
	return ""
}
