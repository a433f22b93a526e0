package fanout

import "sync"

// DefaultMailboxSize is the number of frames a subscriber may lag behind
// before its overflow policy applies.
const DefaultMailboxSize = 1024

// OverflowPolicy decides what a full mailbox does with a new frame.
type OverflowPolicy int

const (
	// OverflowClose closes the mailbox; the consumer is expected to
	// disconnect.
	OverflowClose OverflowPolicy = iota
	// OverflowDrop discards the new frame and keeps the mailbox open.
	OverflowDrop
)

// Mailbox is a bounded FIFO of outbound frames. Push never blocks, so a
// producer holding a lock can enqueue without waiting on the consumer.
type Mailbox struct {
	ch     chan interface{}
	policy OverflowPolicy

	mutex      sync.Mutex
	closed     bool
	overflowed bool
	dropped    uint64
}

// NewMailbox creates a mailbox holding up to size frames
func NewMailbox(size int, policy OverflowPolicy) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Mailbox{
		ch:     make(chan interface{}, size),
		policy: policy,
	}
}

// Push enqueues a frame. It returns false when the mailbox is closed,
// including when this push closed it by overflowing.
func (m *Mailbox) Push(frame interface{}) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return false
	}

	select {
	case m.ch <- frame:
		return true
	default:
	}

	if m.policy == OverflowDrop {
		m.dropped++
		return true
	}

	m.overflowed = true
	m.closed = true
	close(m.ch)
	return false
}

// Frames returns the channel the consumer drains. It is closed by Close or
// by an overflow.
func (m *Mailbox) Frames() <-chan interface{} {
	return m.ch
}

// Close stops accepting frames. Frames already queued remain readable.
// Close is idempotent.
func (m *Mailbox) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// Overflowed reports whether the mailbox was closed by an overflow
func (m *Mailbox) Overflowed() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.overflowed
}

// Dropped returns the number of frames discarded under OverflowDrop
func (m *Mailbox) Dropped() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.dropped
}
