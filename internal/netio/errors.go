package netio

import "errors"

var (
	// ErrSinkClosed is returned by Send on a closed sink.
	ErrSinkClosed = errors.New("sink closed")

	// ErrUnexpectedConnType indicates the net package returned a
	// connection of an unexpected concrete type.
	ErrUnexpectedConnType = errors.New("unexpected connection type")
)
