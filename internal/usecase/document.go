package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	logging "github.com/ipfs/go-log/v2"

	"synopsis/internal/domain"
	"synopsis/internal/fanout"
	"synopsis/internal/patcher"
)

var logger = logging.Logger("synopsis/registry")

// DefaultDocumentValue is the value of a document created without a configured default
var DefaultDocumentValue = json.RawMessage(`{}`)

// DocumentOptions configures a DocumentUseCase
type DocumentOptions struct {
	// DefaultValue is the initial value of lazily created documents.
	DefaultValue json.RawMessage
	// NodeID seeds the snowflake generator for commit IDs (0-1023).
	NodeID int64
}

// DocumentUseCase implements domain.DocumentUseCase. It is the document
// registry: one entry per name, each with its own lock, so batches on one
// document serialize while unrelated documents proceed independently.
type DocumentUseCase struct {
	docRepo      domain.DocumentRepository
	historyRepo  domain.HistoryRepository
	hub          *fanout.Hub
	node         *snowflake.Node
	defaultValue json.RawMessage

	// mutex guards the entries map only, never document contents.
	mutex   sync.Mutex
	entries map[string]*documentEntry
}

type documentEntry struct {
	mutex sync.Mutex
	// doc is nil until first loaded from the repository.
	doc *domain.Document
}

// NewDocumentUseCase creates a new document registry
func NewDocumentUseCase(
	docRepo domain.DocumentRepository,
	historyRepo domain.HistoryRepository,
	hub *fanout.Hub,
	opts DocumentOptions,
) (*DocumentUseCase, error) {
	if docRepo == nil || historyRepo == nil || hub == nil {
		return nil, errors.New("document registry requires a repository, a history and a hub")
	}

	defaultValue := opts.DefaultValue
	if len(defaultValue) == 0 {
		defaultValue = DefaultDocumentValue
	}
	if !json.Valid(defaultValue) {
		return nil, fmt.Errorf("default document value is not valid JSON")
	}

	node, err := snowflake.NewNode(opts.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit id generator: %w", err)
	}

	return &DocumentUseCase{
		docRepo:      docRepo,
		historyRepo:  historyRepo,
		hub:          hub,
		node:         node,
		defaultValue: append(json.RawMessage(nil), defaultValue...),
		entries:      make(map[string]*documentEntry),
	}, nil
}

func (uc *DocumentUseCase) entry(name string) *documentEntry {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	e, ok := uc.entries[name]
	if !ok {
		e = &documentEntry{}
		uc.entries[name] = e
	}
	return e
}

// loadLocked fills e.doc from the repository, creating the document when it
// does not exist yet. e.mutex must be held.
func (uc *DocumentUseCase) loadLocked(ctx context.Context, name string, e *documentEntry) error {
	if e.doc != nil {
		return nil
	}

	doc, err := uc.docRepo.Get(ctx, name)
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		doc = domain.NewDocument(name, uc.defaultValue)
		if err := uc.docRepo.Put(ctx, doc); err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		logger.Debugw("document created", "document", name)
	case err != nil:
		return fmt.Errorf("failed to load document: %w", err)
	}

	e.doc = doc
	return nil
}

// GetOrCreate returns a copy of the named document, creating it on first reference
func (uc *DocumentUseCase) GetOrCreate(ctx context.Context, name string) (*domain.Document, error) {
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}

	e := uc.entry(name)
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := uc.loadLocked(ctx, name, e); err != nil {
		return nil, err
	}
	return e.doc.Clone(), nil
}

// ApplyBatch applies batch to the named document. On success the version is
// bumped by one, the commit is recorded and handed to the hub, all before
// the document lock is released, so commit order is delivery order. On
// failure the document is untouched and the error (a *patcher.Failure for
// rejected batches) goes to the caller only.
func (uc *DocumentUseCase) ApplyBatch(ctx context.Context, name string, batch json.RawMessage) (*domain.Commit, error) {
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}

	e := uc.entry(name)
	e.mutex.Lock()
	defer e.mutex.Unlock()

	// A batch whose connection went away before it reached the lock is dropped.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := uc.loadLocked(ctx, name, e); err != nil {
		return nil, err
	}

	value, err := patcher.Apply(e.doc.Value, batch)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	next := &domain.Document{
		Name:      name,
		Value:     value,
		Version:   e.doc.Version + 1,
		CreatedAt: e.doc.CreatedAt,
		UpdatedAt: now,
	}
	if err := uc.docRepo.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	e.doc = next

	commit := &domain.Commit{
		Name:        name,
		Version:     next.Version,
		Patch:       append(json.RawMessage(nil), batch...),
		CommitID:    uc.node.Generate().Int64(),
		CommittedAt: now,
	}
	if err := uc.historyRepo.Append(commit); err != nil {
		logger.Warnw("failed to record commit", "document", name, "version", commit.Version, "error", err)
	}

	// Publish only enqueues into mailboxes; sockets are written by each
	// session's writer outside this lock. See "Delivery ordering vs. the lock" in DESIGN.md.
	delivered := uc.hub.Publish(commit)
	logger.Debugw("batch committed", "document", name, "version", commit.Version, "subscribers", delivered)

	return commit, nil
}

// Join subscribes sub to the named document and queues the synchronization
// packet carrying the current version. Both happen under the document lock,
// so the packet precedes every later commit in sub's queue.
func (uc *DocumentUseCase) Join(ctx context.Context, name string, sub domain.Subscriber) (uint64, error) {
	if err := domain.ValidateName(name); err != nil {
		return 0, err
	}

	e := uc.entry(name)
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := uc.loadLocked(ctx, name, e); err != nil {
		return 0, err
	}

	version := e.doc.Version
	if !sub.Deliver(domain.NewSyncCommit(name, version)) {
		return 0, domain.ErrSlowConsumer
	}
	if err := uc.hub.Subscribe(name, sub); err != nil {
		return 0, err
	}

	return version, nil
}

// Leave unsubscribes sub from the named document. It is idempotent.
func (uc *DocumentUseCase) Leave(name string, sub domain.Subscriber) {
	uc.hub.Unsubscribe(name, sub)
}

// Snapshot returns the current state of a document without creating it
func (uc *DocumentUseCase) Snapshot(ctx context.Context, name string) (*domain.Document, error) {
	uc.mutex.Lock()
	e, ok := uc.entries[name]
	uc.mutex.Unlock()

	if ok {
		e.mutex.Lock()
		defer e.mutex.Unlock()
		if e.doc != nil {
			return e.doc.Clone(), nil
		}
	}

	return uc.docRepo.Get(ctx, name)
}

// List returns the names of all known documents
func (uc *DocumentUseCase) List(ctx context.Context) ([]string, error) {
	return uc.docRepo.List(ctx)
}

// History returns the recorded commits of a document after version since
func (uc *DocumentUseCase) History(name string, since uint64) ([]*domain.Commit, error) {
	return uc.historyRepo.Since(name, since)
}
