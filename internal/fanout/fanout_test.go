package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synopsis/internal/domain"
)

// mailboxSubscriber is a test subscriber backed by a Mailbox
type mailboxSubscriber struct {
	id      string
	mailbox *Mailbox
}

func newMailboxSubscriber(id string, size int) *mailboxSubscriber {
	return &mailboxSubscriber{id: id, mailbox: NewMailbox(size, OverflowClose)}
}

func (s *mailboxSubscriber) ID() string { return s.id }

func (s *mailboxSubscriber) Deliver(c *domain.Commit) bool { return s.mailbox.Push(c) }

func (s *mailboxSubscriber) versions() []uint64 {
	s.mailbox.Close()
	var out []uint64
	for f := range s.mailbox.Frames() {
		out = append(out, f.(*domain.Commit).Version)
	}
	return out
}

func commit(name string, version uint64) *domain.Commit {
	return &domain.Commit{Name: name, Version: version, Patch: json.RawMessage(`[]`), CommitID: int64(version)}
}

func TestMailbox_OverflowClose(t *testing.T) {
	m := NewMailbox(2, OverflowClose)

	assert.True(t, m.Push(1))
	assert.True(t, m.Push(2))
	assert.False(t, m.Push(3))
	assert.True(t, m.Overflowed())
	assert.False(t, m.Push(4))

	var got []interface{}
	for f := range m.Frames() {
		got = append(got, f)
	}
	assert.Equal(t, []interface{}{1, 2}, got)

	// Close after overflow must not panic
	m.Close()
}

func TestMailbox_OverflowDrop(t *testing.T) {
	m := NewMailbox(1, OverflowDrop)

	assert.True(t, m.Push("a"))
	assert.True(t, m.Push("b"))
	assert.False(t, m.Overflowed())
	assert.Equal(t, uint64(1), m.Dropped())

	m.Close()
	m.Close()
	assert.False(t, m.Push("c"))
}

func TestHub_PublishOrderAndIsolation(t *testing.T) {
	hub := NewHub()
	a := newMailboxSubscriber("a", 16)
	b := newMailboxSubscriber("b", 16)
	other := newMailboxSubscriber("other", 16)

	require.NoError(t, hub.Subscribe("doc", a))
	require.NoError(t, hub.Subscribe("doc", b))
	require.NoError(t, hub.Subscribe("other-doc", other))
	assert.Equal(t, 2, hub.Subscribers("doc"))

	for v := uint64(1); v <= 5; v++ {
		assert.Equal(t, 2, hub.Publish(commit("doc", v)))
	}

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, a.versions())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, b.versions())
	assert.Empty(t, other.versions())
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	hub := NewHub()
	a := newMailboxSubscriber("a", 4)

	require.NoError(t, hub.Subscribe("doc", a))
	hub.Unsubscribe("doc", a)
	hub.Unsubscribe("doc", a)
	hub.Unsubscribe("never", a)

	assert.Equal(t, 0, hub.Publish(commit("doc", 1)))
	assert.Equal(t, 0, hub.Subscribers("doc"))
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := NewHub()
	slow := newMailboxSubscriber("slow", 1)
	fast := newMailboxSubscriber("fast", 64)

	require.NoError(t, hub.Subscribe("doc", slow))
	require.NoError(t, hub.Subscribe("doc", fast))

	done := make(chan struct{})
	go func() {
		for v := uint64(1); v <= 10; v++ {
			hub.Publish(commit("doc", v))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.True(t, slow.mailbox.Overflowed())
	assert.Equal(t, 1, hub.Subscribers("doc"))
	assert.Len(t, fast.versions(), 10)
}

func TestHub_ObserversSeeAllNames(t *testing.T) {
	hub := NewHub()
	obs := newMailboxSubscriber("obs", 16)
	require.NoError(t, hub.Observe(obs))

	hub.Publish(commit("a", 1))
	hub.Publish(commit("b", 1))
	hub.Publish(commit("a", 2))

	assert.Equal(t, []uint64{1, 1, 2}, obs.versions())
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	hub.Close()

	err := hub.Subscribe("doc", newMailboxSubscriber("a", 1))
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.Equal(t, 0, hub.Publish(commit("doc", 1)))
}

// fakeRedis records PUBLISH calls
type fakeRedis struct {
	mu       sync.Mutex
	pingErr  error
	messages map[string][]string
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages == nil {
		f.messages = make(map[string][]string)
	}
	f.messages[channel] = append(f.messages[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func TestRedisMirror_PublishesCommits(t *testing.T) {
	client := &fakeRedis{}
	mirror, err := NewRedisMirror(context.Background(), client, "test:", 16)
	require.NoError(t, err)

	hub := NewHub()
	require.NoError(t, hub.Observe(mirror))

	// 동기화 패킷은 미러링하지 않음
	hub.Publish(domain.NewSyncCommit("doc", 0))
	for v := uint64(1); v <= 3; v++ {
		hub.Publish(&domain.Commit{
			Name:     "doc",
			Version:  v,
			Patch:    json.RawMessage(fmt.Sprintf(`[{"op":"add","path":"/v","value":%d}]`, v)),
			CommitID: int64(100 + v),
		})
	}
	require.NoError(t, mirror.Close())

	client.mu.Lock()
	defer client.mu.Unlock()
	msgs := client.messages["test:doc"]
	require.Len(t, msgs, 3)

	var first domain.Commit
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &first))
	assert.Equal(t, uint64(1), first.Version)
	assert.Equal(t, int64(101), first.CommitID)
	assert.JSONEq(t, `[{"op":"add","path":"/v","value":1}]`, string(first.Patch))
}

func TestRedisMirror_PingFailure(t *testing.T) {
	_, err := NewRedisMirror(context.Background(), &fakeRedis{pingErr: errors.New("refused")}, "", 1)
	require.Error(t, err)

	_, err = NewRedisMirror(context.Background(), nil, "", 1)
	require.Error(t, err)
}
