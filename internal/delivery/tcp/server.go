// Package tcp serves synchronization sessions over raw TCP connections.
// Each accepted connection carries the same concatenated JSON values as an
// in-process stream.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("synopsis/tcp")

// SessionServer runs one session over a connection until it ends
type SessionServer interface {
	Serve(ctx context.Context, conn io.ReadWriteCloser) error
}

// Server accepts TCP connections and hands them to a SessionServer
type Server struct {
	sessions SessionServer

	mutex    sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a TCP server
func NewServer(sessions SessionServer) *Server {
	return &Server{sessions: sessions}
}

// ListenAndServe listens on addr and serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled or the
// listener fails. It waits for running sessions before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mutex.Lock()
	s.listener = listener
	s.mutex.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	logger.Infow("tcp listener started", "addr", listener.Addr().String())
	defer s.wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Infow("tcp listener stopped", "addr", listener.Addr().String())
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			remote := conn.RemoteAddr().String()
			logger.Debugw("connection accepted", "remote", remote)
			if err := s.sessions.Serve(ctx, conn); err != nil {
				logger.Debugw("connection ended", "remote", remote, "error", err)
			}
		}()
	}
}

// Addr returns the listening address, nil before Serve is called
func (s *Server) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
