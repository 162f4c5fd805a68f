// Package apperr defines the error types shared by every layer of the
// service.  Handlers inspect them with errors.As to pick a response code;
// the client reconciler uses the same types to decide whether to roll back.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports malformed input.  No state was changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Invalid is a shorthand for building a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError reports that the target record was not in the state the
// operation required, or that another writer won a race for it.
type ConflictError struct {
	SpotID int64
	Reason string
}

func (e *ConflictError) Error() string {
	if e.SpotID == 0 {
		return "conflict: " + e.Reason
	}
	return fmt.Sprintf("conflict on spot %d: %s", e.SpotID, e.Reason)
}

// Conflict is a shorthand for building a ConflictError.
func Conflict(spotID int64, reason string) error {
	return &ConflictError{SpotID: spotID, Reason: reason}
}

// NotFoundError reports that a referenced record does not exist.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// NotFound is a shorthand for building a NotFoundError.
func NotFound(kind string, id int64) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConnectionError reports that a store or transport could not be reached.
// The operation may be retried.
type ConnectionError struct {
	Component string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Component, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Unavailable wraps err as a ConnectionError for component.
func Unavailable(component string, err error) error {
	return &ConnectionError{Component: component, Err: err}
}

// PartialFailureError reports that a multi-step write may have been
// applied only in part.  It is never retried automatically; an operator
// has to inspect the affected floors.
type PartialFailureError struct {
	ZoneID int64
	Floors []int
	Stage  string
	Err    error
}

func (e *PartialFailureError) Error() string {
	floors := make([]string, len(e.Floors))
	for i, f := range e.Floors {
		floors[i] = fmt.Sprint(f)
	}
	return fmt.Sprintf("partial failure in zone %d during %s (floors %s): %v; manual reconciliation required",
		e.ZoneID, e.Stage, strings.Join(floors, ","), e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

var (
	// ErrNoneAvailable is returned by the nearest-spot selector when no
	// candidate is free.
	ErrNoneAvailable = errors.New("no available spot")
	// ErrNoGateConfigured is returned when a zone has no entrance to
	// measure distance from.
	ErrNoGateConfigured = errors.New("no gate configured for zone")
	// ErrNothingToCopy is returned when the source floor of a layout copy
	// has no spots.
	ErrNothingToCopy = errors.New("source floor has no spots")
	// ErrForbidden is returned when the actor's role does not allow the
	// operation.
	ErrForbidden = errors.New("forbidden")
)

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
