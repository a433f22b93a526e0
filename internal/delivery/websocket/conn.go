// Package websocket bridges websocket connections to synchronization
// sessions. Inbound messages are concatenated into one byte stream and each
// outbound frame is sent as its own text message.
package websocket

import (
	"errors"
	"io"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
)

// closeGracePeriod bounds the close handshake
const closeGracePeriod = time.Second

// Conn adapts a websocket connection to io.ReadWriteCloser
type Conn struct {
	ws *gws.Conn

	// reader is the message currently being read
	reader io.Reader

	writeMutex sync.Mutex
	closeOnce  sync.Once
	closeErr   error
}

// NewConn wraps ws
func NewConn(ws *gws.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read reads from the current message and moves on to the next one when it
// is exhausted. A normal close from the peer is reported as io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway, gws.CloseNoStatusReceived) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends p as one text message
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := c.ws.WriteMessage(gws.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the underlying connection
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMutex.Lock()
		msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
		c.ws.WriteControl(gws.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.writeMutex.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
