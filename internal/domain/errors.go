package domain

import (
	"errors"
	"fmt"
)

// StoreReason classifies a backend rejection from the record or blob store.
type StoreReason string

const (
	ReasonNotFound       StoreReason = "not_found"
	ReasonConstraint     StoreReason = "constraint"
	ReasonBucketNotFound StoreReason = "bucket_not_found"
	ReasonInvalid        StoreReason = "invalid"
	ReasonBackend        StoreReason = "backend"
)

// StoreError is returned by the record and blob stores for any backend rejection.
type StoreError struct {
	Op     string
	Reason StoreReason
	Err    error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on a bare reason, e.g. errors.Is(err, &StoreError{Reason: ReasonNotFound}).
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Reason == e.Reason
}

// NewStoreError wraps err with an operation name and reason.
func NewStoreError(op string, reason StoreReason, err error) *StoreError {
	return &StoreError{Op: op, Reason: reason, Err: err}
}

// ReasonOf returns the reason of the first StoreError in err's chain, or "".
func ReasonOf(err error) StoreReason {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}

// IsNotFound reports whether err carries the not_found reason.
func IsNotFound(err error) bool {
	return ReasonOf(err) == ReasonNotFound
}
