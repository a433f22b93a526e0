// Package session implements the per-connection state machine.
//
// A Session reads a stream of JSON values from its connection. The first
// value is the handshake naming a document and carrying credentials; once
// the authenticator accepts it the session is bound to that document and
// every later value must be a JSON Patch batch. Outbound frames (the
// synchronization packet, broadcast commits and rejections) are queued in a
// mailbox and written by a dedicated goroutine, so a slow connection never
// holds up the registry.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"synopsis/internal/auth"
	"synopsis/internal/domain"
	"synopsis/internal/fanout"
	"synopsis/internal/patcher"
)

var logger = logging.Logger("synopsis/session")

// DefaultDrainTimeout bounds how long a closing session waits for queued
// frames to be written.
const DefaultDrainTimeout = 5 * time.Second

// State is the lifecycle stage of a session
type State int32

const (
	StateAwaitingHandshake State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the collaborators a session is created with
type Config struct {
	Documents     domain.DocumentUseCase
	Authenticator auth.Authenticator
	// MailboxSize is the outbound queue length; 0 uses fanout.DefaultMailboxSize.
	MailboxSize int
	// AuthTimeout bounds the authenticator; 0 waits indefinitely.
	AuthTimeout time.Duration
	// DrainTimeout bounds the final flush; 0 uses DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// Session is one connection bound (eventually) to one document
type Session struct {
	id            string
	documents     domain.DocumentUseCase
	authenticator auth.Authenticator
	authTimeout   time.Duration
	drainTimeout  time.Duration
	mailbox       *fanout.Mailbox
	state         atomic.Int32

	mutex      sync.RWMutex
	name       string
	consumerID string
	abort      context.CancelFunc
}

// New creates a session in StateAwaitingHandshake
func New(cfg Config) *Session {
	authenticator := cfg.Authenticator
	if authenticator == nil {
		authenticator = auth.AllowAll{}
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}

	return &Session{
		id:            uuid.New().String(),
		documents:     cfg.Documents,
		authenticator: authenticator,
		authTimeout:   cfg.AuthTimeout,
		drainTimeout:  drainTimeout,
		mailbox:       fanout.NewMailbox(cfg.MailboxSize, fanout.OverflowClose),
	}
}

// ID implements domain.Subscriber
func (s *Session) ID() string {
	return s.id
}

// Deliver implements domain.Subscriber. A session whose mailbox overflows
// is disconnected.
func (s *Session) Deliver(commit *domain.Commit) bool {
	if s.mailbox.Push(commit) {
		return true
	}
	s.disconnect()
	return false
}

func (s *Session) disconnect() {
	s.mutex.RLock()
	abort := s.abort
	s.mutex.RUnlock()
	if abort != nil {
		abort()
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Name returns the bound document name, empty before the handshake completes
func (s *Session) Name() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.name
}

// ConsumerID returns the client-supplied consumer identifier
func (s *Session) ConsumerID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.consumerID
}

// Serve runs the session over conn until the peer closes it, ctx is
// cancelled, or a terminal error occurs. conn is always closed on return.
//
// The returned error is nil for a clean close. Otherwise it matches
// domain.ErrInvalidAuth, domain.ErrProtocol or domain.ErrSlowConsumer, or
// wraps the transport failure.
func (s *Session) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mutex.Lock()
	s.abort = cancel
	s.mutex.Unlock()

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() { conn.Close() })
	}
	defer closeConn()
	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	writerDone := make(chan error, 1)
	go func() {
		err := s.writeLoop(conn)
		if err != nil {
			cancel()
		}
		writerDone <- err
	}()

	readErr := s.readLoop(ctx, conn)
	s.state.Store(int32(StateClosed))

	// Let queued frames (e.g. a final error object) reach the peer.
	s.mailbox.Close()
	var writeErr error
	timer := time.NewTimer(s.drainTimeout)
	select {
	case writeErr = <-writerDone:
	case <-timer.C:
		closeConn()
		writeErr = <-writerDone
	}
	timer.Stop()

	err := readErr
	if err == nil && writeErr != nil {
		err = writeErr
	}
	if s.mailbox.Overflowed() && !errors.Is(err, domain.ErrProtocol) {
		err = domain.ErrSlowConsumer
	}
	s.logClose(err)
	return err
}

func (s *Session) readLoop(ctx context.Context, r io.Reader) error {
	dec := json.NewDecoder(r)

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return s.readError(ctx, err)
	}
	if err := s.handshake(ctx, raw); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer s.documents.Leave(s.Name(), s)

	for {
		var batch json.RawMessage
		if err := dec.Decode(&batch); err != nil {
			return s.readError(ctx, err)
		}
		if err := s.handleBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Session) readError(ctx context.Context, err error) error {
	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		return nil
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		s.mailbox.Push(domain.ErrorFrame{Error: domain.ErrorInvalidMessage})
		return domain.NewProtocolError("undecodable JSON", err)
	}

	return fmt.Errorf("failed to read from connection: %w", err)
}

func (s *Session) handshake(ctx context.Context, raw json.RawMessage) error {
	if !isJSONKind(raw, '{') {
		s.mailbox.Push(domain.ErrorFrame{Error: domain.ErrorInvalidMessage})
		return domain.NewProtocolError("handshake must be an object", nil)
	}

	var hs domain.Handshake
	if err := json.Unmarshal(raw, &hs); err != nil {
		s.mailbox.Push(domain.ErrorFrame{Error: domain.ErrorInvalidHandshake})
		return domain.NewProtocolError("malformed handshake", err)
	}
	if err := domain.ValidateName(hs.Name); err != nil {
		s.mailbox.Push(domain.ErrorFrame{Error: domain.ErrorInvalidHandshake})
		return domain.NewProtocolError("missing or invalid document name", err)
	}

	s.mutex.Lock()
	s.consumerID = hs.ConsumerID
	s.mutex.Unlock()

	if err := s.authenticate(ctx, hs.Auth); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Debugw("authentication rejected", "session", s.id, "document", hs.Name, "error", err)
		s.mailbox.Push(domain.ErrorFrame{Error: domain.ErrorInvalidAuth})
		return fmt.Errorf("%w: %v", domain.ErrInvalidAuth, err)
	}

	version, err := s.documents.Join(ctx, hs.Name, s)
	if err != nil {
		return fmt.Errorf("failed to join document: %w", err)
	}

	s.mutex.Lock()
	s.name = hs.Name
	s.mutex.Unlock()
	s.state.Store(int32(StateBound))

	logger.Debugw("session bound", "session", s.id, "consumer", hs.ConsumerID, "document", hs.Name, "version", version)
	return nil
}

// authenticate runs the authenticator on its own goroutine so that a hung
// or panicking implementation cannot outlive the connection or take down
// the process.
func (s *Session) authenticate(ctx context.Context, creds domain.Credentials) error {
	authCtx := ctx
	if s.authTimeout > 0 {
		var cancel context.CancelFunc
		authCtx, cancel = context.WithTimeout(ctx, s.authTimeout)
		defer cancel()
	}

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("authenticator panicked: %v", r)
			}
		}()
		result <- s.authenticator.Authenticate(authCtx, creds)
	}()

	select {
	case err := <-result:
		return err
	case <-authCtx.Done():
		return authCtx.Err()
	}
}

func (s *Session) handleBatch(ctx context.Context, batch json.RawMessage) error {
	if !isJSONKind(batch, '[') {
		s.mailbox.Push(domain.ErrorFrame{Error: domain.ErrorInvalidMessage})
		return domain.NewProtocolError("expected a patch batch array", nil)
	}

	name := s.Name()
	commit, err := s.documents.ApplyBatch(ctx, name, batch)

	var failure *patcher.Failure
	switch {
	case err == nil:
		logger.Debugw("batch accepted", "session", s.id, "document", name, "version", commit.Version)
		return nil
	case errors.As(err, &failure):
		logger.Debugw("batch rejected", "session", s.id, "document", name, "kind", failure.Kind, "index", failure.Index, "error", failure.Err)
		if !s.mailbox.Push(domain.NewPatchRejectedFrame(batch)) {
			s.disconnect()
			return domain.ErrSlowConsumer
		}
		return nil
	default:
		return fmt.Errorf("failed to apply batch: %w", err)
	}
}

func (s *Session) writeLoop(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for frame := range s.mailbox.Frames() {
		var out interface{} = frame
		if commit, ok := frame.(*domain.Commit); ok {
			out = domain.NewUpdateFrame(commit)
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to write to connection: %w", err)
		}
	}

	if s.mailbox.Overflowed() {
		return domain.ErrSlowConsumer
	}
	return nil
}

func (s *Session) logClose(err error) {
	fields := []interface{}{"session", s.id, "consumer", s.ConsumerID(), "document", s.Name()}
	switch {
	case err == nil:
		logger.Debugw("session closed", fields...)
	case errors.Is(err, domain.ErrInvalidAuth):
		logger.Debugw("session closed after auth rejection", fields...)
	case errors.Is(err, domain.ErrProtocol):
		logger.Infow("session closed on protocol error", append(fields, "error", err)...)
	default:
		logger.Warnw("session closed with error", append(fields, "error", err)...)
	}
}

func isJSONKind(raw json.RawMessage, open byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == open
}
