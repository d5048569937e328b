package governance

import (
	"errors"
	"fmt"
)

// Kind classifies a rejection
type Kind int

const (
	KindAuthorization Kind = iota + 1 // Caller lacks the right to perform the operation
	KindStateConflict                 // Operation conflicts with recorded state
	KindNotFound                      // Referenced entity does not exist
	KindValidation                    // Malformed input
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state-conflict"
	case KindNotFound:
		return "not-found"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a governance rejection with a stable numeric code.
// Two Errors match under errors.Is when their codes are equal.
type Error struct {
	Code    int
	Kind    Kind
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (u%d)", e.Name, e.Code)
	}
	return fmt.Sprintf("%s (u%d): %s", e.Name, e.Code, e.Message)
}

// Is matches on code so that annotated copies still equal their sentinel
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// withMessage returns a copy of e carrying detail text
func (e *Error) withMessage(format string, args ...interface{}) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

func newError(code int, kind Kind, name string) *Error {
	return &Error{Code: code, Kind: kind, Name: name}
}

var (
	ErrAlreadyExecuted    = newError(4001, KindStateConflict, "already-executed")
	ErrNotFound           = newError(4002, KindNotFound, "not-found")
	ErrAlreadyVoted       = newError(4003, KindStateConflict, "already-voted")
	ErrNotOperator        = newError(4004, KindAuthorization, "not-operator")
	ErrAlreadyConstructed = newError(4005, KindStateConflict, "already-constructed")
	ErrNotConstructed     = newError(4006, KindStateConflict, "not-constructed")
	ErrUnauthorized       = newError(4007, KindAuthorization, "unauthorized")
	ErrActionMismatch     = newError(4008, KindStateConflict, "action-mismatch")
	ErrReentrantCall      = newError(4009, KindAuthorization, "reentrant-call")
	ErrUnknownAction      = newError(4010, KindNotFound, "unknown-action")
	ErrInvalidDescription = newError(4011, KindValidation, "invalid-description")
	ErrInsufficientFunds  = newError(4012, KindStateConflict, "insufficient-funds")
	ErrOperatorNotFound   = newError(4013, KindNotFound, "operator-not-found")
	ErrQuorumUnreachable  = newError(4014, KindStateConflict, "quorum-unreachable")
	ErrInvalidAmount      = newError(4015, KindValidation, "invalid-amount")
	ErrInvalidAddress     = newError(4016, KindValidation, "invalid-address")
)

// Errors lists every sentinel in code order
var Errors = []*Error{
	ErrAlreadyExecuted, ErrNotFound, ErrAlreadyVoted, ErrNotOperator,
	ErrAlreadyConstructed, ErrNotConstructed, ErrUnauthorized, ErrActionMismatch,
	ErrReentrantCall, ErrUnknownAction, ErrInvalidDescription, ErrInsufficientFunds,
	ErrOperatorNotFound, ErrQuorumUnreachable, ErrInvalidAmount, ErrInvalidAddress,
}

// CodeOf returns the governance code carried by err, or 0
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// AsError extracts the governance rejection from err
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// ErrorByCode looks up a sentinel by its numeric code
func ErrorByCode(code int) (*Error, bool) {
	for _, e := range Errors {
		if e.Code == code {
			return e, true
		}
	}
	return nil, false
}
