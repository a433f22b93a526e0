package datastore

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	ds "github.com/ipfs/go-datastore"
	dsquery "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synopsis/internal/domain"
)

func TestDocumentRepository_PutGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDocumentRepository()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	doc := domain.NewDocument("notes", json.RawMessage(`{"a":1}`))
	doc.Version = 3
	require.NoError(t, repo.Put(ctx, doc))

	got, err := repo.Get(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "notes", got.Name)
	assert.Equal(t, uint64(3), got.Version)
	assert.JSONEq(t, `{"a":1}`, string(got.Value))
}

func TestDocumentRepository_ListEscapesNames(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDocumentRepository()

	for _, name := range []string{"b", "a/b", "a//b", "with space"} {
		require.NoError(t, repo.Put(ctx, domain.NewDocument(name, json.RawMessage(`{}`))))
	}

	names, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a//b", "a/b", "b", "with space"}, names)

	got, err := repo.Get(ctx, "a//b")
	require.NoError(t, err)
	assert.Equal(t, "a//b", got.Name)
}

func TestDocumentRepository_DotNamesStayInNamespace(t *testing.T) {
	ctx := context.Background()
	store := dssync.MutexWrap(ds.NewMapDatastore())
	repo := NewDocumentRepository(store, "")

	names := []string{".", "..", "../x", "a.b", "a/b"}
	for i, name := range names {
		doc := domain.NewDocument(name, json.RawMessage(`{}`))
		doc.Version = uint64(i)
		require.NoError(t, repo.Put(ctx, doc))
	}

	listed, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, names, listed)

	for i, name := range names {
		got, err := repo.Get(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, name, got.Name)
		assert.Equal(t, uint64(i), got.Version)
	}

	// 모든 키는 prefix 바로 아래 한 단계에만 있어야 함
	results, err := store.Query(ctx, dsquery.Query{KeysOnly: true})
	require.NoError(t, err)
	entries, err := results.Rest()
	require.NoError(t, err)
	require.Len(t, entries, len(names))
	for _, entry := range entries {
		key := ds.RawKey(entry.Key)
		assert.Equal(t, DefaultPrefix, key.Parent().String(), entry.Key)
		assert.False(t, strings.Contains(key.BaseNamespace(), "."), entry.Key)
	}
}
