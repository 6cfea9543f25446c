package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for the snapshot-isolation engine
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument    ErrorCode = 1000
	ErrCodeInvalidTransaction ErrorCode = 1001
	ErrCodeUnknownView        ErrorCode = 1002
	ErrCodeNoOwners           ErrorCode = 1003

	// Version / ordering errors
	ErrCodeVersionMismatch   ErrorCode = 2000
	ErrCodeMustRevalidate    ErrorCode = 2001
	ErrCodeOrderingViolation ErrorCode = 2002

	// Liveness errors
	ErrCodeWaitTimeout             ErrorCode = 3000
	ErrCodeRemoteReadIndeterminate ErrorCode = 3001
	ErrCodeTransport               ErrorCode = 3002

	// Server errors
	ErrCodeInternal ErrorCode = 4000
)

// GMUError represents a structured error with code and context
type GMUError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *GMUError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *GMUError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a GMUError carrying the same code
func (e *GMUError) Is(target error) bool {
	t, ok := target.(*GMUError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ToGRPCStatus converts GMUError to gRPC status
func (e *GMUError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *GMUError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeUnknownView:
		return codes.InvalidArgument
	case ErrCodeInvalidTransaction:
		return codes.FailedPrecondition
	case ErrCodeVersionMismatch, ErrCodeMustRevalidate:
		return codes.Aborted
	case ErrCodeWaitTimeout:
		return codes.DeadlineExceeded
	case ErrCodeRemoteReadIndeterminate, ErrCodeTransport, ErrCodeNoOwners:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewGMUError creates a new GMUError
func NewGMUError(code ErrorCode, message string, cause error) *GMUError {
	return &GMUError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *GMUError) WithDetail(key string, value interface{}) *GMUError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *GMUError {
	return NewGMUError(ErrCodeInvalidArgument, message, cause)
}

func InvalidTransaction(txID string) *GMUError {
	return NewGMUError(ErrCodeInvalidTransaction, fmt.Sprintf("transaction %s is invalid", txID), nil).
		WithDetail("tx_id", txID)
}

func UnknownView(viewID int64) *GMUError {
	return NewGMUError(ErrCodeUnknownView, fmt.Sprintf("no cluster snapshot for view %d", viewID), nil).
		WithDetail("view_id", viewID)
}

func NoOwners(key string) *GMUError {
	return NewGMUError(ErrCodeNoOwners, fmt.Sprintf("no live owners for key %s", key), nil).
		WithDetail("key", key)
}

func VersionMismatch(fromView, toView int64) *GMUError {
	return NewGMUError(ErrCodeVersionMismatch, fmt.Sprintf("cannot rebase version from view %d to view %d", fromView, toView), nil).
		WithDetail("from_view", fromView).
		WithDetail("to_view", toView)
}

func MustRevalidate(message string) *GMUError {
	return NewGMUError(ErrCodeMustRevalidate, message, nil)
}

func OrderingViolation(message string) *GMUError {
	return NewGMUError(ErrCodeOrderingViolation, message, nil)
}

func WaitTimeout(what string, cause error) *GMUError {
	return NewGMUError(ErrCodeWaitTimeout, fmt.Sprintf("timed out waiting for %s", what), cause).
		WithDetail("waiting_for", what)
}

func RemoteReadIndeterminate(key string, attempts int) *GMUError {
	return NewGMUError(ErrCodeRemoteReadIndeterminate,
		fmt.Sprintf("remote read of %s is indeterminate after %d attempts across topology changes", key, attempts), nil).
		WithDetail("key", key).
		WithDetail("attempts", attempts)
}

func TransportFailed(message string, cause error) *GMUError {
	return NewGMUError(ErrCodeTransport, message, cause)
}

func InternalError(message string, cause error) *GMUError {
	return NewGMUError(ErrCodeInternal, message, cause)
}

// IsGMUError checks if an error is a GMUError
func IsGMUError(err error) bool {
	var ge *GMUError
	return errors.As(err, &ge)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ge *GMUError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain
func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// ToGRPCError converts any error into a gRPC status error. Errors that
// already carry a gRPC status are returned unchanged.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var ge *GMUError
	if errors.As(err, &ge) {
		return ge.ToGRPCStatus().Err()
	}
	return InternalError("unexpected error", err).ToGRPCStatus().Err()
}
