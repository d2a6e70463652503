// Package errs is the error taxonomy shared by gateways, the ledger, the review
// queue and the stage engine. Every mutating operation returns either nil or an
// *Error whose Kind lets callers tell "already registered" from "try again".
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation            Kind = "validation"
	KindDuplicateRegistration Kind = "duplicate_registration"
	KindSignatureMismatch     Kind = "signature_mismatch"
	KindGatewayTransport      Kind = "gateway_transport"
	KindAllocationConflict    Kind = "allocation_conflict"
	KindUnknownEntity         Kind = "unknown_entity"
	KindInvalidTransition     Kind = "invalid_transition"
	KindUnavailable           Kind = "unavailable"
	KindInternal              Kind = "internal"
)

// Error carries a user-safe Msg and the underlying cause in Err. Raw provider
// payloads only ever travel in Err.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error

	// Set on duplicate registrations so callers can point at the existing team.
	TeamID     int64
	TeamNumber string
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so the sentinel values below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrDuplicateRegistration = &Error{Kind: KindDuplicateRegistration}
	ErrSignatureMismatch     = &Error{Kind: KindSignatureMismatch}
	ErrGatewayTransport      = &Error{Kind: KindGatewayTransport}
	ErrAllocationConflict    = &Error{Kind: KindAllocationConflict}
	ErrUnknownEntity         = &Error{Kind: KindUnknownEntity}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrUnavailable           = &Error{Kind: KindUnavailable}
)

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

func UnknownEntity(op, entity string, id any) *Error {
	return New(KindUnknownEntity, op, fmt.Sprintf("%s %v not found", entity, id))
}

func InvalidTransition(op, format string, args ...any) *Error {
	return New(KindInvalidTransition, op, fmt.Sprintf(format, args...))
}

func Duplicate(op string, teamID int64, teamNumber, msg string) *Error {
	return &Error{Kind: KindDuplicateRegistration, Op: op, Msg: msg, TeamID: teamID, TeamNumber: teamNumber}
}

// KindOf returns the Kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether a caller may retry the same call. Only transport
// failures and allocation races qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindGatewayTransport, KindAllocationConflict:
		return true
	}
	return false
}

// Message is the text safe to show an end user.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return string(e.Kind)
	}
	return "internal error"
}
