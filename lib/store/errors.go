package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCInvalidOperation:
		errorCode = "InvalidOperation"
	case RetCTimeout:
		errorCode = "Timeout"
	case RetCCancelled:
		errorCode = "Cancelled"
	case RetCMissingConfig:
		errorCode = "MissingConfig"
	default:
		errorCode = "Unknown"
	}

	return fmt.Sprintf("StorageError (code %s): %s", errorCode, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                   // 1: Operation failed due to an internal error.
	RetCInvalidOperation                // 2: Invalid operation for this storage strategy.
	RetCTimeout                         // 3: A remote request did not complete in time.
	RetCCancelled                       // 4: The storage was closed while the operation was in flight.
	RetCMissingConfig                   // 5: The storage cannot be built with the given configuration.
)

// --------------------------------------------------------------------------
// Timeout Error
// --------------------------------------------------------------------------

// TimeoutError is returned when a remote request resolved at its deadline.
// The operation result still contains the partial aggregate of all peers
// that did answer; Missing names the endpoints that stayed silent.
type TimeoutError struct {
	Missing []uuid.UUID
}

func (e *TimeoutError) Error() string {
	ids := make([]string, 0, len(e.Missing))
	for _, id := range e.Missing {
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("request timed out waiting for %d endpoint(s): %s",
		len(e.Missing), strings.Join(ids, ", "))
}
