package synopsis

import (
	"io"
	"sync"
)

// Stream is the client end of a connection created by Backend.CreateStream.
// Bytes written are the client's JSON values; bytes read are the backend's.
// It is a plain byte stream: values may be split or coalesced across
// Read and Write calls.
type Stream struct {
	sessionID string
	reader    *io.PipeReader
	writer    *io.PipeWriter

	done chan struct{}
	once sync.Once
	err  error
}

// serverConn is the backend end of a Stream
type serverConn struct {
	*io.PipeReader
	*io.PipeWriter
}

func (c *serverConn) Close() error {
	c.PipeReader.Close()
	return c.PipeWriter.Close()
}

func newStreamPair(sessionID string) (*Stream, *serverConn) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	stream := &Stream{
		sessionID: sessionID,
		reader:    outR,
		writer:    inW,
		done:      make(chan struct{}),
	}
	return stream, &serverConn{PipeReader: inR, PipeWriter: outW}
}

// Read reads bytes the backend sent. It returns io.EOF once the session ended.
func (s *Stream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Write sends bytes to the backend.
func (s *Stream) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

// CloseWrite signals that the client sends no more values. Frames already
// queued by the backend can still be read.
func (s *Stream) CloseWrite() error {
	return s.writer.Close()
}

// Close closes both directions.
func (s *Stream) Close() error {
	s.writer.Close()
	return s.reader.Close()
}

// SessionID identifies the backend session in logs
func (s *Stream) SessionID() string {
	return s.sessionID
}

// Done is closed when the backend session has ended
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended: nil for a clean close, otherwise an
// error matching ErrInvalidAuth, ErrProtocol, ErrSlowConsumer or a
// transport failure. It is only meaningful after Done is closed.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Stream) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
