package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/inletio/inletd/handler"
	"github.com/inletio/inletd/log"
	"github.com/inletio/inletd/protocol"
)

// readChunkSize is the per-read buffer size. Reads are appended to the
// session's pending buffer, so a frame may span any number of reads.
const readChunkSize = 64 * 1024

// session is the sequential worker for one connection. It exclusively owns
// the connection's decoder state; decode, dispatch, and ack are strictly
// ordered, so an ack is only written after every event of its batch has
// been handled.
type session struct {
	conn   net.Conn
	dec    *protocol.StreamDecoder
	state  handler.State
	hooks  Hooks
	logger *log.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newSession(conn net.Conn, state handler.State, hooks Hooks, logger *log.Logger, cfg Config) *session {
	return &session{
		conn:         conn,
		dec:          protocol.NewStreamDecoder(protocol.WithMaxPending(cfg.MaxPending)),
		state:        state,
		hooks:        hooks,
		logger:       logger,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

// run reads, decodes, and dispatches until the peer closes, the inactivity
// timeout elapses, or a fatal error occurs. It emits the start/stop hooks
// and, on abnormal termination, the error hook.
func (s *session) run(ctx context.Context) {
	remote := s.conn.RemoteAddr().String()
	fire(func() { s.hooks.ConnectionStart(remote) })
	defer fire(func() { s.hooks.ConnectionStop(remote) })
	defer s.closeState()

	buf := make([]byte, readChunkSize)
	for {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		n, readErr := s.conn.Read(buf)
		if n > 0 {
			s.dec.Feed(buf[:n])
			if err := s.drain(ctx); err != nil {
				s.logger.Error("connection failed", zap.Error(err))
				fire(func() { s.hooks.ConnectionError(remote, err) })
				return
			}
		}
		if readErr != nil {
			if isCleanClose(readErr) {
				s.logger.Debug("connection closed", zap.Int("pending_bytes", s.dec.Buffered()))
				return
			}
			s.logger.Error("connection read failed", zap.Error(readErr))
			fire(func() { s.hooks.ConnectionError(remote, readErr) })
			return
		}
	}
}

// drain dispatches every complete batch currently in the pending buffer.
// Dispatch interleaves with decoding so event order is preserved across
// frames within the connection.
func (s *session) drain(ctx context.Context) error {
	for {
		batch, err := s.dec.Next()
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if batch == nil {
			return nil
		}

		fire(func() { s.hooks.MessageReceived(batch.Tag) })
		s.logger.Debug("batch received",
			zap.String("tag", batch.Tag),
			zap.String("mode", batch.Mode.String()),
			zap.Int("events", len(batch.Events)))

		for _, ev := range batch.Events {
			if err := s.state.HandleEvent(ctx, ev); err != nil {
				return fmt.Errorf("handle event tag=%s: %w", ev.Tag, err)
			}
			fire(func() { s.hooks.EventHandled() })
		}

		if err := s.maybeAck(batch.Options); err != nil {
			return err
		}
	}
}

// maybeAck writes the ack frame when the batch's options carry a chunk
// token. It runs only after the whole batch has been dispatched; a write
// failure is fatal for the connection.
func (s *session) maybeAck(opts protocol.Options) error {
	chunk, ok := opts.Chunk()
	if !ok {
		return nil
	}

	frame, err := protocol.EncodeAck(chunk)
	if err != nil {
		return err
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}
	fire(func() { s.hooks.AckSent() })
	s.logger.Debug("ack sent", zap.String("chunk", chunk))
	return nil
}

// closeState releases handler state that holds resources.
func (s *session) closeState() {
	if closer, ok := s.state.(io.Closer); ok {
		_ = closer.Close()
	}
}

// isCleanClose reports whether a read error is a normal terminal event:
// peer close, server shutdown, or the inactivity timeout.
func isCleanClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
