package apperr

import "errors"

// Wire codes carried in the "error" field of API error bodies.
const (
	CodeValidation     = "validation_failed"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeForbidden      = "forbidden"
	CodeNoGate         = "no_gate_configured"
	CodeNoneAvailable  = "none_available"
	CodeNothingToCopy  = "nothing_to_copy"
	CodePartialFailure = "manual_reconciliation_required"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

// Code returns the wire code for err.
func Code(err error) string {
	var (
		ve *ValidationError
		nf *NotFoundError
		ce *ConflictError
		pf *PartialFailureError
		cn *ConnectionError
	)
	switch {
	case errors.As(err, &pf):
		return CodePartialFailure
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.As(err, &ce):
		return CodeConflict
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNoGateConfigured):
		return CodeNoGate
	case errors.Is(err, ErrNoneAvailable):
		return CodeNoneAvailable
	case errors.Is(err, ErrNothingToCopy):
		return CodeNothingToCopy
	case errors.As(err, &cn):
		return CodeUnavailable
	}
	return CodeInternal
}

// FromCode rebuilds a typed error from a wire code so that callers on the
// far side of the API can use errors.As as if the call were local.
func FromCode(code, message string, spotID int64) error {
	switch code {
	case CodeValidation:
		return &ValidationError{Reason: message}
	case CodeNotFound:
		return &NotFoundError{Kind: "resource", ID: spotID}
	case CodeConflict:
		return &ConflictError{SpotID: spotID, Reason: message}
	case CodeForbidden:
		return ErrForbidden
	case CodeNoGate:
		return ErrNoGateConfigured
	case CodeNoneAvailable:
		return ErrNoneAvailable
	case CodeNothingToCopy:
		return ErrNothingToCopy
	case CodePartialFailure:
		return &PartialFailureError{Stage: "remote", Err: errors.New(message)}
	}
	return Unavailable("api", errors.New(message))
}
