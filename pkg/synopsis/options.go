package synopsis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ds "github.com/ipfs/go-datastore"

	"synopsis/internal/auth"
	"synopsis/internal/domain"
	"synopsis/internal/fanout"
	"synopsis/internal/repository/memory"
)

type (
	// Credentials is the opaque "auth" payload of a handshake.
	Credentials = domain.Credentials
	// Authenticator checks handshake credentials.
	Authenticator = auth.Authenticator
	// AuthenticatorFunc adapts a function to Authenticator.
	AuthenticatorFunc = auth.AuthenticatorFunc
	// Document is a snapshot of a shared document.
	Document = domain.Document
	// Commit is an accepted patch batch.
	Commit = domain.Commit
	// Observer receives every commit of every document.
	Observer = domain.Subscriber
)

// Options configures a Backend
type Options struct {
	// Authenticator checks each connection's handshake. Nil accepts everyone.
	Authenticator Authenticator
	// DefaultDocument is the initial JSON value of new documents ({} when empty).
	DefaultDocument json.RawMessage
	// Datastore holds document values. Nil uses an in-memory map datastore.
	Datastore ds.Datastore
	// MailboxSize is how many outbound frames a connection may lag behind
	// before it is disconnected.
	MailboxSize int
	// HistorySize is the number of recent commits kept per document.
	HistorySize int
	// AuthTimeout bounds authentication; 0 means no timeout.
	AuthTimeout time.Duration
	// NodeID seeds commit ID generation (0-1023).
	NodeID int64
	// Observers are registered on the fanout hub at construction.
	Observers []Observer
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		Authenticator: auth.AllowAll{},
		MailboxSize:   fanout.DefaultMailboxSize,
		HistorySize:   memory.DefaultHistorySize,
		NodeID:        1,
	}
}

// Validate reports configuration errors
func (o Options) Validate() error {
	if err := auth.Validate(o.Authenticator); err != nil {
		return err
	}
	if len(o.DefaultDocument) > 0 && !json.Valid(o.DefaultDocument) {
		return errors.New("default document is not valid JSON")
	}
	if o.MailboxSize < 0 {
		return fmt.Errorf("mailbox size must not be negative: %d", o.MailboxSize)
	}
	if o.HistorySize < 0 {
		return fmt.Errorf("history size must not be negative: %d", o.HistorySize)
	}
	if o.AuthTimeout < 0 {
		return fmt.Errorf("auth timeout must not be negative: %s", o.AuthTimeout)
	}
	for i, obs := range o.Observers {
		if obs == nil {
			return fmt.Errorf("observer %d is nil", i)
		}
	}
	return nil
}
