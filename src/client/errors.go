package client

import (
	"errors"

	"jsondb/src/protocol"
)

// Error is a failure response from the server.
type Error struct {
	Code string
}

func (e *Error) Error() string { return "jsondb: " + e.Code }

// Is matches any *Error with the same code, so errors.Is(err, ErrActive)
// works on errors returned by the client.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrFormat        = &Error{Code: protocol.CodeFormat}
	ErrUnauthed      = &Error{Code: protocol.CodeUnauthed}
	ErrNonOpen       = &Error{Code: protocol.CodeNonOpen}
	ErrDoesntExist   = &Error{Code: protocol.CodeDoesntExist}
	ErrExists        = &Error{Code: protocol.CodeExists}
	ErrExist         = &Error{Code: protocol.CodeExist}
	ErrAlreadyOpened = &Error{Code: protocol.CodeAlreadyOpened}
	ErrAlreadyAuthed = &Error{Code: protocol.CodeAlreadyAuthed}
	ErrUser          = &Error{Code: protocol.CodeUser}
	ErrPermissions   = &Error{Code: protocol.CodePermissions}
	ErrActive        = &Error{Code: protocol.CodeActive}
	ErrUnknown       = &Error{Code: protocol.CodeUnknown}
	ErrDecoding      = &Error{Code: protocol.CodeDecoding}
	ErrInternal      = &Error{Code: protocol.CodeInternal}
)

// ErrClosed is returned for requests on a closed connection.
var ErrClosed = errors.New("jsondb: connection closed")

// ErrUnexpectedGreeting means the server did not open with an auth frame.
var ErrUnexpectedGreeting = errors.New("jsondb: unexpected greeting from server")
