package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err *ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// ArgumentError indicates malformed input: an empty required field or a malformed id.
type ArgumentError struct {
	msg string
}

func NewArgumentError(msg string) *ArgumentError { return &ArgumentError{msg} }
func (err *ArgumentError) Error() string         { return err.msg }

func IsArgumentError(err error) bool {
	_, ok := errors.Cause(err).(*ArgumentError)
	return ok
}

// NotFoundError indicates that a referenced record does not exist.
type NotFoundError struct {
	msg string
}

func NewNotFoundError(msg string) *NotFoundError { return &NotFoundError{msg} }
func (err *NotFoundError) Error() string         { return err.msg }

func IsNotFoundError(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// PreconditionError indicates that the record's current state does not satisfy
// the operation's required precondition.
type PreconditionError struct {
	msg string
}

func NewPreconditionError(msg string) *PreconditionError { return &PreconditionError{msg} }
func (err *PreconditionError) Error() string             { return err.msg }

func IsPreconditionError(err error) bool {
	_, ok := errors.Cause(err).(*PreconditionError)
	return ok
}

// TransitionError indicates that the requested action is not defined for the
// record's current state at all.
type TransitionError struct {
	State  string
	Action string
}

func NewTransitionError(state, action string) *TransitionError {
	return &TransitionError{State: state, Action: action}
}

func (err *TransitionError) Error() string {
	return fmt.Sprintf("%q is not a valid action in state %q", err.Action, err.State)
}

func IsTransitionError(err error) bool {
	_, ok := errors.Cause(err).(*TransitionError)
	return ok
}

// PermissionError indicates that the actor's role does not authorize the operation.
type PermissionError struct {
	msg string
}

func NewPermissionError(msg string) *PermissionError { return &PermissionError{msg} }
func (err *PermissionError) Error() string           { return err.msg }

func IsPermissionError(err error) bool {
	_, ok := errors.Cause(err).(*PermissionError)
	return ok
}

// UnavailableError indicates a transient failure of the underlying store;
// the operation is safe to retry.
type UnavailableError struct {
	Err error
}

func NewUnavailableError(err error) *UnavailableError { return &UnavailableError{err} }

func (err *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", err.Err)
}

func IsUnavailableError(err error) bool {
	_, ok := errors.Cause(err).(*UnavailableError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s *shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
