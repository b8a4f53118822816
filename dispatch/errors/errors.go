package errors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is against these; concrete failures wrap them.
var (
	ErrInvalidOutcome        = errors.New("InvalidOutcome")
	ErrMissingRequiredNotes  = errors.New("MissingRequiredNotes")
	ErrInvalidTiming         = errors.New("InvalidTiming")
	ErrAlreadyResolved       = errors.New("AlreadyResolved")
	ErrProfileConsentMissing = errors.New("ProfileConsentMissing")
	ErrNotFound              = errors.New("NotFound")
	ErrUpstreamUnavailable   = errors.New("UpstreamUnavailable")
	ErrInvalidProfile        = errors.New("InvalidProfile")
	ErrInvalidRequest        = errors.New("InvalidRequest")
)

// ValidationError is returned for input the caller can correct.
type ValidationError struct {
	Err   error
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Validation Error. Field: %s, Msg: %s, Err: %s", e.Field, e.Msg, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func NewValidationError(kind error, field, msg string) *ValidationError {
	return &ValidationError{Err: kind, Field: field, Msg: msg}
}

type EntityNotFoundError struct {
	Err    error
	Entity string
	ID     string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("no %s found for id %s: %s", e.Entity, e.ID, e.Err)
}

func (e *EntityNotFoundError) Unwrap() error {
	return ErrNotFound
}

func NewNotFound(entity, id string) *EntityNotFoundError {
	return &EntityNotFoundError{Err: ErrNotFound, Entity: entity, ID: id}
}

// UpstreamError marks a ledger or store failure.
type UpstreamError struct {
	Err    error
	Source string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %s", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamUnavailable, e.Err}
}

// Kind returns the name of the taxonomy sentinel err matches, or "" for none.
func Kind(err error) string {
	for _, k := range []error{
		ErrInvalidOutcome, ErrMissingRequiredNotes, ErrInvalidTiming, ErrInvalidProfile, ErrInvalidRequest,
		ErrAlreadyResolved, ErrProfileConsentMissing, ErrNotFound, ErrUpstreamUnavailable,
	} {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ""
}

// IsValidation reports whether err is a caller-correctable input error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
