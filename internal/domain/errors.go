package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAuth is returned when the authenticator rejects a handshake
	ErrInvalidAuth = errors.New("invalid auth")
	// ErrProtocol is the root of every malformed-inbound error
	ErrProtocol = errors.New("protocol error")
	// ErrSlowConsumer is returned when a connection's outbound queue overflows
	ErrSlowConsumer = errors.New("slow consumer")
	// ErrDocumentNotFound is returned by read-only lookups of unknown names
	ErrDocumentNotFound = errors.New("document not found")
	// ErrInvalidName is returned for empty or oversized document names
	ErrInvalidName = errors.New("invalid document name")
	// ErrBackendClosed is returned once a backend has been closed
	ErrBackendClosed = errors.New("backend closed")
)

// ProtocolError describes an inbound value of the wrong shape for the
// connection's current state.
type ProtocolError struct {
	Reason string
	Err    error
}

// NewProtocolError creates a protocol error
func NewProtocolError(reason string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

// Is makes errors.Is(err, ErrProtocol) hold for every ProtocolError
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
