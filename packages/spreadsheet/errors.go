package spreadsheet

import (
	"errors"
	"fmt"
)

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or deadline exceeded.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error. Errors raised by APIs that do not return enough error
	// information may be converted to this error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument, such as
	// a malformed address or a range that is too small to merge.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (e.g., worksheet or named range)
	// was not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// PermissionDenied is used for writes against read-only cells and
	// worksheets.
	PermissionDenied AppErrorCode = 7

	// ResourceExhausted indicates some resource has been exhausted, such as
	// the outline nesting depth.
	ResourceExhausted AppErrorCode = 8

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution.
	FailedPrecondition AppErrorCode = 9

	// Aborted indicates a composite operation was rolled back.
	Aborted AppErrorCode = 10

	// OutOfRange means operation was attempted past the valid range.
	OutOfRange AppErrorCode = 11

	// Unimplemented indicates operation is not implemented or not
	// supported/enabled in this service.
	Unimplemented AppErrorCode = 12

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

var appErrorCodeNames = map[AppErrorCode]string{
	OK:                 "OK",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	NotFound:           "NOT_FOUND",
	AlreadyExists:      "ALREADY_EXISTS",
	PermissionDenied:   "PERMISSION_DENIED",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	FailedPrecondition: "FAILED_PRECONDITION",
	Aborted:            "ABORTED",
	OutOfRange:         "OUT_OF_RANGE",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
}

func (c AppErrorCode) String() string {
	if name, ok := appErrorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// sentinel kinds, matched with errors.Is against any *AppError
var (
	ErrInvalidAddress           = errors.New("invalid address format")
	ErrRangeIntersection        = errors.New("range intersects a merged span")
	ErrRangeTooSmall            = errors.New("range too small")
	ErrNamedRangeAlreadyDefined = errors.New("named range already defined")
	ErrNamedRangeNotFound       = errors.New("named range not found")
	ErrInvalidName              = errors.New("invalid name")
	ErrOutlineOutOfRange        = errors.New("outline out of range")
	ErrOutlineAlreadyDefined    = errors.New("outline already defined")
	ErrOutlineIntersected       = errors.New("outline intersected")
	ErrOutlineTooMuch           = errors.New("outline nesting too deep")
	ErrOutlineNotFound          = errors.New("outline not found")
	ErrReadOnlyCell             = errors.New("operation on read-only cell")
	ErrRecalculationInProgress  = errors.New("recalculation in progress")
	ErrWorksheetNotFound        = errors.New("worksheet not found")
	ErrWorksheetAlreadyExists   = errors.New("worksheet already exists")
	ErrUnknownCellBody          = errors.New("unknown cell body")
)

// AppError represents errors at the application level (not
// spreadsheet formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// newKindError creates an application error that wraps one of the sentinel
// kinds above
func newKindError(code AppErrorCode, kind error, format string, args ...any) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     kind,
	}
}

// ErrorCodeOf returns the application error code carried by err, Unknown
// when err is not an *AppError and OK for nil.
func ErrorCodeOf(err error) AppErrorCode {
	if err == nil {
		return OK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// FormulaParseError is returned by the formula parser. Position is the rune
// offset into the formula text (including the leading '=').
type FormulaParseError struct {
	Formula  string
	Position int
	Message  string
}

func (e *FormulaParseError) Error() string {
	return fmt.Sprintf("formula parse error at %d: %s", e.Position, e.Message)
}

// ActionError wraps an error returned by a member of an action group
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("action '%s' failed: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("action failed: %v", e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// RollbackError collects the errors hit while undoing the already applied
// members of a failed action group
type RollbackError struct {
	Cause  error
	Errors []error
}

func (e *RollbackError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%v (rollback error: %v)", e.Cause, e.Errors[0])
	}
	return fmt.Sprintf("%v (rollback completed with %d errors: %v)", e.Cause, len(e.Errors), e.Errors)
}

func (e *RollbackError) Unwrap() []error {
	return append([]error{e.Cause}, e.Errors...)
}

// PanicError wraps a panic recovered while running an action
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}
