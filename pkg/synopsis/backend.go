// Package synopsis is a real-time JSON document synchronization backend.
//
// Clients attach to a named document over a duplex byte stream carrying a
// sequence of JSON values. The first value is a handshake:
//
//	{"name": "doc", "auth": {...}, "consumerId": "1"}
//
// after which the client receives [[], version] and then [patch, version]
// for every batch accepted on that document, its own included. Each later
// inbound value is a JSON Patch batch; a batch that cannot be applied is
// answered with {"error": "patch failed", "patch": batch} to its sender only.
package synopsis

import (
	"context"
	"fmt"
	"io"
	"sync"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"

	"synopsis/internal/auth"
	"synopsis/internal/domain"
	"synopsis/internal/fanout"
	"synopsis/internal/repository/datastore"
	"synopsis/internal/repository/memory"
	"synopsis/internal/session"
	"synopsis/internal/usecase"
)

var logger = logging.Logger("synopsis")

// ErrBackendClosed is returned by CreateStream and Serve after Close
var ErrBackendClosed = domain.ErrBackendClosed

// Backend owns a document registry and an authenticator and serves
// connections against them. Backends share nothing with each other.
type Backend struct {
	documents     *usecase.DocumentUseCase
	hub           *fanout.Hub
	authenticator Authenticator
	opts          Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex  sync.Mutex
	closed bool
}

// New creates a Backend. Invalid options are reported here rather than on
// the first connection.
func New(opts Options) (*Backend, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backend options: %w", err)
	}

	authenticator := opts.Authenticator
	if authenticator == nil {
		authenticator = auth.AllowAll{}
	}

	store := opts.Datastore
	if store == nil {
		store = dssync.MutexWrap(ds.NewMapDatastore())
	}

	hub := fanout.NewHub()
	for _, obs := range opts.Observers {
		if err := hub.Observe(obs); err != nil {
			return nil, err
		}
	}

	documents, err := usecase.NewDocumentUseCase(
		datastore.NewDocumentRepository(store, ""),
		memory.NewHistoryRepository(opts.HistorySize),
		hub,
		usecase.DocumentOptions{
			DefaultValue: opts.DefaultDocument,
			NodeID:       opts.NodeID,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create document registry: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Backend{
		documents:     documents,
		hub:           hub,
		authenticator: authenticator,
		opts:          opts,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Documents returns the backend's document registry
func (b *Backend) Documents() domain.DocumentUseCase {
	return b.documents
}

func (b *Backend) newSession() *session.Session {
	return session.New(session.Config{
		Documents:     b.documents,
		Authenticator: b.authenticator,
		MailboxSize:   b.opts.MailboxSize,
		AuthTimeout:   b.opts.AuthTimeout,
	})
}

// track registers a running session; it fails once the backend is closed.
func (b *Backend) track() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return ErrBackendClosed
	}
	b.wg.Add(1)
	return nil
}

// CreateStream creates a new connection and returns the client end of its
// duplex byte stream. The session runs until the stream is closed.
func (b *Backend) CreateStream() (*Stream, error) {
	if err := b.track(); err != nil {
		return nil, err
	}

	sess := b.newSession()
	stream, conn := newStreamPair(sess.ID())

	go func() {
		defer b.wg.Done()
		stream.finish(sess.Serve(b.ctx, conn))
	}()

	return stream, nil
}

// Serve runs one session over conn, blocking until it ends. It is how
// network listeners attach connections to the backend.
func (b *Backend) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	if err := b.track(); err != nil {
		conn.Close()
		return err
	}
	defer b.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	return b.newSession().Serve(ctx, conn)
}

// Close disconnects every session and waits for them to finish.
func (b *Backend) Close() error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	b.mutex.Unlock()

	b.cancel()
	b.wg.Wait()
	b.hub.Close()

	logger.Debugw("backend closed")
	return nil
}
