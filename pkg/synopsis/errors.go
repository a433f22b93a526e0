package synopsis

import "synopsis/internal/domain"

var (
	// ErrInvalidAuth matches sessions ended by an authenticator rejection.
	ErrInvalidAuth = domain.ErrInvalidAuth
	// ErrProtocol matches sessions ended by a malformed inbound value.
	ErrProtocol = domain.ErrProtocol
	// ErrSlowConsumer matches sessions that fell too far behind.
	ErrSlowConsumer = domain.ErrSlowConsumer
	// ErrDocumentNotFound is returned by Snapshot for unknown documents.
	ErrDocumentNotFound = domain.ErrDocumentNotFound
)
