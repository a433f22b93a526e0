package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	ds "github.com/ipfs/go-datastore"
	dsquery "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"

	"synopsis/internal/domain"
)

// DefaultPrefix is the key namespace documents are stored under
const DefaultPrefix = "/synopsis/documents"

// DocumentRepository is a go-datastore backed implementation of domain.DocumentRepository
type DocumentRepository struct {
	store  ds.Datastore
	prefix ds.Key
}

// NewDocumentRepository creates a repository over store. Keys are written
// below prefix, or DefaultPrefix when prefix is empty.
func NewDocumentRepository(store ds.Datastore, prefix string) *DocumentRepository {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &DocumentRepository{
		store:  store,
		prefix: ds.NewKey(prefix),
	}
}

// NewMemoryDocumentRepository creates a repository over a thread-safe map datastore
func NewMemoryDocumentRepository() *DocumentRepository {
	return NewDocumentRepository(dssync.MutexWrap(ds.NewMapDatastore()), "")
}

// escapeName makes name a single key segment. Slashes would create nested
// keys and "." or ".." would be cleaned away, so both are percent-encoded.
func escapeName(name string) string {
	return strings.ReplaceAll(url.QueryEscape(name), ".", "%2E")
}

// key returns the datastore key of the named document
func (r *DocumentRepository) key(name string) ds.Key {
	return r.prefix.ChildString(escapeName(name))
}

// Get retrieves a document by name
func (r *DocumentRepository) Get(ctx context.Context, name string) (*domain.Document, error) {
	data, err := r.store.Get(ctx, r.key(name))
	if err != nil {
		if errors.Is(err, ds.ErrNotFound) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	return &doc, nil
}

// Put stores a document, replacing any previous value
func (r *DocumentRepository) Put(ctx context.Context, doc *domain.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := r.store.Put(ctx, r.key(doc.Name), data); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}

	return nil
}

// List returns the names of all stored documents in sorted order
func (r *DocumentRepository) List(ctx context.Context) ([]string, error) {
	results, err := r.store.Query(ctx, dsquery.Query{
		Prefix:   r.prefix.String(),
		KeysOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer results.Close()

	entries, err := results.Rest()
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		escaped := strings.TrimPrefix(ds.RawKey(entry.Key).BaseNamespace(), "/")
		name, err := url.QueryUnescape(escaped)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}
