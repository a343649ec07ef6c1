package pipeline

import (
	"fmt"
	"runtime/debug"
)

// Error is an error meant for the client. It is serialized as
//
//	{"message": "...", "details": {...}}
//
// with "details" omitted when empty.
type Error struct {
	Message string
	Details map[string]any
}

// NewError returns an [*Error] with the given message and details.
func NewError(message string, details map[string]any) *Error {
	return &Error{Message: message, Details: details}
}

func (e *Error) Error() string {
	return e.Message
}

// PanicError is the failure recorded when a handler panics.
type PanicError struct {
	Value any
	stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Stack returns the goroutine stack captured at the panic.
func (e *PanicError) Stack() string {
	return string(e.stack)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)

	return err
}
