package auth

import (
	"errors"
	"fmt"
)

type RejectReason string

const (
	ReasonMissingToken RejectReason = "MISSING_TOKEN"
	ReasonInvalidToken RejectReason = "INVALID_TOKEN"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// RejectionError is returned when a connection attempt must not be admitted.
type RejectionError struct {
	Reason RejectReason
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection rejected: %s", e.Reason)
	}
	return fmt.Sprintf("connection rejected: %s: %v", e.Reason, e.Err)
}

func (e *RejectionError) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *RejectionError) sentinel() error {
	if e.Reason == ReasonMissingToken {
		return ErrMissingToken
	}
	return ErrInvalidToken
}

// ReasonOf extracts the machine readable rejection reason from err.
func ReasonOf(err error) (RejectReason, bool) {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.Reason, true
	}
	return "", false
}

func reject(reason RejectReason, err error) error {
	return &RejectionError{Reason: reason, Err: err}
}
