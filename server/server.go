// Package server accepts forward-protocol connections and runs one
// sequential session worker per connection. Sessions own their decoder
// state exclusively; nothing is shared across connections except the
// handler, which the server treats as opaque.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inletio/inletd/handler"
	"github.com/inletio/inletd/log"
)

// DefaultWriteTimeout bounds ack writes when no write timeout is configured.
const DefaultWriteTimeout = 10 * time.Second

// Config holds the immutable settings a Server is created with.
type Config struct {
	// Addr is the TCP listen address, e.g. ":24224".
	Addr string
	// TLS enables TLS on the listener when non-nil.
	TLS *tls.Config
	// ReadTimeout is the per-connection inactivity timeout. An elapsed
	// timeout is a normal terminal event, not an error. Zero disables it.
	ReadTimeout time.Duration
	// WriteTimeout bounds ack writes. Defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
	// MaxPending caps the undecoded bytes buffered per connection. Zero
	// uses protocol.MaxPendingBuffer.
	MaxPending int
	// HandlerOptions are the static options passed to Handler.Init for
	// every connection.
	HandlerOptions map[string]any
}

// Server listens for client connections and dispatches decoded events to
// the configured handler.
type Server struct {
	cfg      Config
	listener net.Listener
	hdl      handler.Handler
	hooks    Hooks
	logger   *log.Logger

	mu       sync.Mutex
	shutdown bool
	conns    sync.WaitGroup
}

// New binds the listen address and returns a server ready to Serve.
// hooks may be nil for no instrumentation.
func New(cfg Config, hdl handler.Handler, logger *log.Logger, hooks Hooks) (*Server, error) {
	if hdl == nil {
		return nil, errors.New("server requires a handler")
	}
	if logger == nil {
		return nil, errors.New("server requires a logger")
	}
	if hooks == nil {
		hooks = NopHooks{}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	var (
		listener net.Listener
		err      error
	)
	if cfg.TLS != nil {
		listener, err = tls.Listen("tcp", cfg.Addr, cfg.TLS)
	} else {
		listener, err = net.Listen("tcp", cfg.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	return &Server{
		cfg:      cfg,
		listener: listener,
		hdl:      hdl,
		hooks:    hooks,
		logger:   logger.With(zap.String("listen_addr", listener.Addr().String())),
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until the context is canceled or the listener
// fails. Cancellation closes the listener and every active connection, then
// waits for the session workers to wind down.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("server started")

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		return s.listener.Close()
	})

	group.Go(func() error {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				s.mu.Lock()
				isShutdown := s.shutdown
				s.mu.Unlock()
				if isShutdown || errors.Is(err, net.ErrClosed) {
					return nil
				}
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				return fmt.Errorf("accept: %w", err)
			}

			s.conns.Add(1)
			go s.handleConn(ctx, conn)
		}
	})

	err := group.Wait()
	s.conns.Wait()
	s.logger.Info("server stopped")

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Close stops the listener. Active sessions terminate on their next I/O.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	return s.listener.Close()
}

// handleConn initializes handler state and runs the session worker for one
// accepted connection. All failures are local to this connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.conns.Done()
	defer func() { _ = conn.Close() }()

	remote := conn.RemoteAddr().String()
	logger := s.logger.With(zap.String("remote_addr", remote))
	logger.Debug("connection accepted")

	// Unblock session reads when the server shuts down.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	state, err := s.hdl.Init(ctx, s.cfg.HandlerOptions)
	if err != nil {
		logger.Error("handler init failed", zap.Error(err))
		fire(func() { s.hooks.ConnectionError(remote, err) })
		return
	}

	sess := newSession(conn, state, s.hooks, logger, s.cfg)
	sess.run(ctx)
}
