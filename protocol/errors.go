package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies stream decoding errors.
type ErrorKind int

const (
	// KindMalformed indicates bytes the codec actively rejects, as opposed
	// to a frame that is merely incomplete. Fatal for the connection.
	KindMalformed ErrorKind = iota
	// KindTooLarge indicates the pending buffer exceeded MaxPendingBuffer
	// without yielding a complete frame. Fatal for the connection.
	KindTooLarge
)

// DecodeError represents a fatal stream decoding error. Incomplete frames
// are not errors and never surface as a DecodeError; the decoder simply
// waits for more bytes.
type DecodeError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a fatal protocol decode error.
func IsDecodeError(err error) bool {
	var decErr *DecodeError
	return errors.As(err, &decErr)
}

func malformed(msg string, err error) *DecodeError {
	return &DecodeError{Kind: KindMalformed, Msg: msg, Err: err}
}
