package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"synopsis/internal/domain"
)

// DefaultRedisPrefix is prepended to document names to form channel names
const DefaultRedisPrefix = "synopsis:"

// RedisClient is the subset of *redis.Client the mirror uses.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror is a hub observer that republishes every accepted commit to a
// Redis channel per document, for consumers outside the process. It never
// feeds anything back into the hub.
type RedisMirror struct {
	// client is the Redis client. It is owned by the caller.
	client RedisClient
	// prefix is prepended to the document name to form the channel.
	prefix string
	// mailbox decouples publishing from the committing writer.
	mailbox *Mailbox
	// timeout bounds a single PUBLISH.
	timeout time.Duration
	// done is closed when the publish loop exits.
	done chan struct{}
}

// NewRedisMirror creates a mirror and starts its publish loop.
func NewRedisMirror(ctx context.Context, client RedisClient, prefix string, queueSize int) (*RedisMirror, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	m := &RedisMirror{
		client:  client,
		prefix:  prefix,
		mailbox: NewMailbox(queueSize, OverflowDrop),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go m.run()

	return m, nil
}

// ID implements domain.Subscriber
func (m *RedisMirror) ID() string {
	return "redis-mirror:" + m.prefix
}

// Deliver implements domain.Subscriber
func (m *RedisMirror) Deliver(commit *domain.Commit) bool {
	if commit.IsSync() {
		return true
	}
	return m.mailbox.Push(commit)
}

// Channel returns the Redis channel commits for name are published to
func (m *RedisMirror) Channel(name string) string {
	return m.prefix + name
}

func (m *RedisMirror) run() {
	defer close(m.done)

	for frame := range m.mailbox.Frames() {
		commit, ok := frame.(*domain.Commit)
		if !ok {
			continue
		}

		data, err := json.Marshal(commit)
		if err != nil {
			logger.Errorw("failed to encode commit", "document", commit.Name, "error", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		err = m.client.Publish(ctx, m.Channel(commit.Name), data).Err()
		cancel()
		if err != nil {
			logger.Warnw("failed to mirror commit", "document", commit.Name, "version", commit.Version, "error", err)
		}
	}
}

// Dropped returns the number of commits not mirrored because the queue was full
func (m *RedisMirror) Dropped() uint64 {
	return m.mailbox.Dropped()
}

// Close stops the mirror after publishing commits already queued.
func (m *RedisMirror) Close() error {
	m.mailbox.Close()
	<-m.done
	return nil
}
