// Package fanout delivers committed patch batches to every connection
// subscribed to a document.
//
// The Hub keeps, per document name, the set of live subscribers. Publish
// hands each commit to every subscriber's Deliver, which only enqueues;
// actual writes to the connection happen on the subscriber's own goroutine.
// Callers publish in commit order, so each subscriber observes commits for a
// name in strictly increasing version order.
package fanout

import (
	"errors"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"synopsis/internal/domain"
)

var logger = logging.Logger("synopsis/fanout")

// ErrHubClosed is returned when subscribing to a closed hub
var ErrHubClosed = errors.New("fanout hub is closed")

// Hub implements subscribe/unsubscribe/publish for document names.
type Hub struct {
	// subscriptions maps a document name to its subscribers keyed by ID.
	subscriptions map[string]map[string]domain.Subscriber
	// observers receive every commit for every name.
	observers map[string]domain.Subscriber
	// mutex protects subscriptions, observers and closed.
	mutex  sync.RWMutex
	closed bool
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]map[string]domain.Subscriber),
		observers:     make(map[string]domain.Subscriber),
	}
}

// Subscribe registers sub for commits on name. Subscribing the same
// subscriber twice is a no-op.
func (h *Hub) Subscribe(name string, sub domain.Subscriber) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	subs, ok := h.subscriptions[name]
	if !ok {
		subs = make(map[string]domain.Subscriber)
		h.subscriptions[name] = subs
	}
	subs[sub.ID()] = sub

	logger.Debugw("subscribed", "document", name, "subscriber", sub.ID(), "count", len(subs))
	return nil
}

// Unsubscribe removes sub from name. It is idempotent.
func (h *Hub) Unsubscribe(name string, sub domain.Subscriber) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.removeLocked(name, sub.ID())
}

func (h *Hub) removeLocked(name, id string) {
	subs, ok := h.subscriptions[name]
	if !ok {
		return
	}
	if _, ok := subs[id]; !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.subscriptions, name)
	}
	logger.Debugw("unsubscribed", "document", name, "subscriber", id)
}

// Observe registers sub for commits on every document name.
func (h *Hub) Observe(sub domain.Subscriber) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.observers[sub.ID()] = sub
	return nil
}

// Unobserve removes an observer. It is idempotent.
func (h *Hub) Unobserve(sub domain.Subscriber) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.observers, sub.ID())
}

// Publish delivers commit to the subscribers of commit.Name and to all
// observers, returning the number of deliveries accepted. Subscribers that
// refuse a delivery are removed.
func (h *Hub) Publish(commit *domain.Commit) int {
	h.mutex.RLock()
	if h.closed {
		h.mutex.RUnlock()
		return 0
	}

	delivered := 0
	var refused []string
	for id, sub := range h.subscriptions[commit.Name] {
		if sub.Deliver(commit) {
			delivered++
		} else {
			refused = append(refused, id)
		}
	}
	for _, obs := range h.observers {
		if obs.Deliver(commit) {
			delivered++
		}
	}
	h.mutex.RUnlock()

	if len(refused) > 0 {
		h.mutex.Lock()
		for _, id := range refused {
			h.removeLocked(commit.Name, id)
		}
		h.mutex.Unlock()
	}

	return delivered
}

// Subscribers returns the number of subscribers on name
func (h *Hub) Subscribers(name string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscriptions[name])
}

// Close drops every subscription. Later Subscribe calls fail.
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.closed = true
	h.subscriptions = make(map[string]map[string]domain.Subscriber)
	h.observers = make(map[string]domain.Subscriber)
}
