package domain

import (
	"context"
	"encoding/json"
	"time"
)

// MaxNameLength is the longest document name a handshake may carry.
const MaxNameLength = 256

// Document represents a named shared JSON value
type Document struct {
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value"`
	Version   uint64          `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewDocument creates a document at version 0 holding value
func NewDocument(name string, value json.RawMessage) *Document {
	now := time.Now()
	return &Document{
		Name:      name,
		Value:     append(json.RawMessage(nil), value...),
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the document
func (d *Document) Clone() *Document {
	c := *d
	c.Value = append(json.RawMessage(nil), d.Value...)
	return &c
}

// Commit is a patch batch accepted by the registry, stamped with the
// version it produced.
type Commit struct {
	Name        string          `json:"name"`
	Version     uint64          `json:"version"`
	Patch       json.RawMessage `json:"patch"`
	CommitID    int64           `json:"commitId,omitempty"`
	CommittedAt time.Time       `json:"committedAt,omitempty"`
}

// NewSyncCommit builds the empty update a freshly bound connection receives.
func NewSyncCommit(name string, version uint64) *Commit {
	return &Commit{
		Name:    name,
		Version: version,
		Patch:   EmptyPatch,
	}
}

// IsSync reports whether the commit is a synchronization packet rather
// than an accepted batch.
func (c *Commit) IsSync() bool {
	return c.CommitID == 0 && string(c.Patch) == string(EmptyPatch)
}

// Subscriber receives commits for the documents it joined. Deliver must not
// block; it returns false once the subscriber can no longer accept frames.
type Subscriber interface {
	ID() string
	Deliver(commit *Commit) bool
}

// DocumentRepository stores the current value and version of each document
type DocumentRepository interface {
	Get(ctx context.Context, name string) (*Document, error)
	Put(ctx context.Context, doc *Document) error
	List(ctx context.Context) ([]string, error)
}

// HistoryRepository keeps a bounded log of recent commits per document
type HistoryRepository interface {
	Append(commit *Commit) error
	Since(name string, version uint64) ([]*Commit, error)
}

// DocumentUseCase is the document registry shared by all connections of a backend
type DocumentUseCase interface {
	GetOrCreate(ctx context.Context, name string) (*Document, error)
	ApplyBatch(ctx context.Context, name string, batch json.RawMessage) (*Commit, error)
	Join(ctx context.Context, name string, sub Subscriber) (uint64, error)
	Leave(name string, sub Subscriber)
	Snapshot(ctx context.Context, name string) (*Document, error)
	List(ctx context.Context) ([]string, error)
	History(name string, since uint64) ([]*Commit, error)
}

// ValidateName checks a document name taken from a handshake
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return ErrInvalidName
	}
	return nil
}
