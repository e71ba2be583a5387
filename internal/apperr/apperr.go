// Package apperr carries the error taxonomy shared by the sync engine, the
// snapshot runner and the provider client.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration covers missing or invalid accounts, tokens, inputs and
	// unresolved path placeholders. Never retried.
	KindConfiguration
	// KindNotFound is a configuration error about a referenced row that does
	// not exist.
	KindNotFound
	// KindTransport is a network failure or timeout. Status is always 0.
	KindTransport
	// KindProvider is a non-2xx answer from the provider.
	KindProvider
	// KindOperationDisabled is a destructive verb refused by configuration.
	KindOperationDisabled
	// KindCrypto is a decrypt or verify failure of a stored secret.
	KindCrypto
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	case KindProvider:
		return "provider"
	case KindOperationDisabled:
		return "operation_disabled"
	case KindCrypto:
		return "crypto"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Status holds the provider HTTP status for
// KindProvider and 0 otherwise.
type Error struct {
	Kind    Kind
	Status  int
	Op      string
	Message string
	Body    []byte
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.Status, msg)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Configuration(op, format string, args ...any) *Error {
	return New(KindConfiguration, op, fmt.Sprintf(format, args...))
}

func NotFound(op, what string) *Error {
	return New(KindNotFound, op, what+" not found")
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// StatusOf returns the provider status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Synchronous reports whether err belongs to the classes surfaced directly to
// the caller of a single operation instead of being recorded as a run failure.
func Synchronous(err error) bool {
	k := KindOf(err)
	return k == KindConfiguration || k == KindNotFound
}
