package models

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to these so callers can use
// errors.Is without caring about the payload.
var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateContent       = errors.New("duplicate content")
	ErrInsufficientCandidates = errors.New("insufficient candidates")
	ErrConcurrencyConflict    = errors.New("concurrency conflict")
	ErrAnalysisFailure        = errors.New("analysis failure")
	ErrInvalidRating          = errors.New("manual rating must be between 0 and 5")
	ErrInvalidEventKind       = errors.New("invalid interaction event kind")
	ErrMissingParent          = errors.New("parent solution does not exist")
)

// ErrorClassifier lets errors declare a coarse kind used for exit codes and
// RPC error codes.
type ErrorClassifier interface {
	ErrorKind() string
}

// Kind returns the classification of err, or "internal" when it has none.
func Kind(err error) string {
	var c ErrorClassifier
	if errors.As(err, &c) {
		return c.ErrorKind()
	}
	return "internal"
}

// NotFoundError reports an unknown solution id or fingerprint.
type NotFoundError struct {
	Kind string // "solution" or "fingerprint"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) ErrorKind() string { return "not_found" }

// DuplicateContentError is returned when byte-identical code is submitted again
// under the same fingerprint. Existing is the canonical stored solution.
type DuplicateContentError struct {
	Existing *Solution
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("duplicate content: identical to solution %s (v%d)", e.Existing.ID, e.Existing.Version)
}

func (e *DuplicateContentError) Is(target error) bool { return target == ErrDuplicateContent }

func (e *DuplicateContentError) ErrorKind() string { return "duplicate" }

// InsufficientCandidatesError reports that an operation needs more inputs.
type InsufficientCandidatesError struct {
	Need int
	Got  int
}

func (e *InsufficientCandidatesError) Error() string {
	return fmt.Sprintf("insufficient candidates: need at least %d, got %d", e.Need, e.Got)
}

func (e *InsufficientCandidatesError) Is(target error) bool {
	return target == ErrInsufficientCandidates
}

func (e *InsufficientCandidatesError) ErrorKind() string { return "insufficient_candidates" }

// AnalysisFailure describes source code the analyzer could not parse. It is
// recorded on the profile as a critical issue rather than returned to callers.
type AnalysisFailure struct {
	Reason   string
	Location string
}

func (e *AnalysisFailure) Error() string {
	if e.Location == "" {
		return "analysis failure: " + e.Reason
	}
	return fmt.Sprintf("analysis failure at %s: %s", e.Location, e.Reason)
}

func (e *AnalysisFailure) Is(target error) bool { return target == ErrAnalysisFailure }

func (e *AnalysisFailure) ErrorKind() string { return "analysis" }

// ValidationError wraps a rejected input value.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) ErrorKind() string { return "validation" }
