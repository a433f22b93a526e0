package websocket

import (
	"context"
	"io"
	"net/http"

	gws "github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("synopsis/websocket")

// DefaultMaxMessageSize limits a single inbound message
const DefaultMaxMessageSize = 1 << 20

// SessionServer runs one session over a connection until it ends
type SessionServer interface {
	Serve(ctx context.Context, conn io.ReadWriteCloser) error
}

// Handler upgrades HTTP requests and serves a session over each websocket
type Handler struct {
	sessions       SessionServer
	upgrader       gws.Upgrader
	maxMessageSize int64
}

// NewHandler creates a websocket handler. Cross-origin requests are accepted.
func NewHandler(sessions SessionServer) *Handler {
	return &Handler{
		sessions: sessions,
		upgrader: gws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxMessageSize: DefaultMaxMessageSize,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logger.Debugw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(h.maxMessageSize)

	logger.Debugw("websocket connected", "remote", r.RemoteAddr)
	if err := h.sessions.Serve(r.Context(), NewConn(ws)); err != nil {
		logger.Debugw("websocket session ended", "remote", r.RemoteAddr, "error", err)
	}
}
