// Package kverr defines the error taxonomy shared by the store, the gateway
// and the command line.
//
// Every user-facing failure carries a Kind. Callers wrap freely with
// fmt.Errorf("...: %w", err); KindOf still finds the original Kind.
package kverr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for exit codes and HTTP status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidInput
	KindPayloadTooLarge
	KindStorage
	KindSchema
	KindIO
)

var kindNames = map[Kind]string{
	KindInternal:        "internal",
	KindNotFound:        "not_found",
	KindInvalidInput:    "invalid_input",
	KindPayloadTooLarge: "payload_too_large",
	KindStorage:         "storage",
	KindSchema:          "schema",
	KindIO:              "io",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified error. Msg is the display message; Err is the
// underlying cause, if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing key. Tag lookups pass a description such as
// "tag 't' on 'k'" and render the same way.
func NotFound(id string) error {
	return &Error{Kind: KindNotFound, Msg: "key not found: " + id}
}

// InvalidInput reports a validation failure.
func InvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

// PayloadTooLarge reports a request body over the configured limit.
func PayloadTooLarge(size int) error {
	return &Error{Kind: KindPayloadTooLarge, Msg: fmt.Sprintf("request body too large: %d bytes", size)}
}

// Storage wraps a database failure during op.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Msg: "database error while " + op, Err: err}
}

// Schema reports an unsupported or legacy database schema.
func Schema(format string, args ...any) error {
	return &Error{Kind: KindSchema, Msg: fmt.Sprintf(format, args...)}
}

// IO wraps a filesystem failure while performing action on path.
func IO(action, path string, err error) error {
	return &Error{Kind: KindIO, Msg: fmt.Sprintf("I/O error while %s '%s'", action, path), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
