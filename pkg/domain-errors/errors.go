// Package domainerrors provides the coded error type returned by services.
//
// Every error that crosses the service boundary carries a stable numeric code
// so API clients can disambiguate failures without parsing messages. The
// numeric codes for capacity and deactivation validation are part of the
// client contract and must not be renumbered.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable numeric error code surfaced to clients.
type Code int

const (
	// Generic codes.
	CodeBadRequest Code = 400
	CodeNotFound   Code = 404
	CodeConflict   Code = 409
	CodeInternal   Code = 500
	CodeTimeout    Code = 408

	// Domain validation codes. These values are the client contract.
	CodeInvalidCapacity              Code = 102 // negative or otherwise malformed capacity
	CodeZeroWorkingCapacity          Code = 106 // working capacity of 0 not allowed for this cell
	CodeMaxBelowWorking              Code = 114 // max capacity below working capacity
	CodeMaxBelowOccupancy            Code = 117 // max capacity below current occupancy
	CodeOtherReasonWithoutDetail     Code = 118 // OTHER deactivation reason requires free text
	CodeDuplicatePathHierarchy       Code = 109 // path hierarchy already taken within the prison
	CodeLocationOccupied             Code = 121 // deactivation vetoed, prisoner present in subtree
	CodeLocationNotDeactivatable     Code = 122 // status does not permit deactivation
	CodeReactivateWithInactiveParent Code = 123 // cannot be more active than an ancestor
	CodeApprovalAlreadyPending       Code = 124 // a pending approval request already covers the location
	CodeNothingToApprove             Code = 125 // not DRAFT and no staged pending changes
	CodeApprovalRequestResolved      Code = 126 // request already approved or rejected
	CodeLocationNotDraft             Code = 127 // operation only permitted on DRAFT locations
)

// HTTPStatus maps a code to its HTTP-equivalent status for transport layers.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeDuplicatePathHierarchy, CodeLocationOccupied,
		CodeMaxBelowOccupancy, CodeApprovalAlreadyPending:
		return http.StatusConflict
	case CodeInternal:
		return http.StatusInternalServerError
	case CodeTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusBadRequest
	}
}

// Error is the coded error carried across service boundaries.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (code %d): %v", e.Message, e.Code, e.cause)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for uncoded
// errors so transport layers always have something to return.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
