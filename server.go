package smtpd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synqronlabs/smtpd/dns"
	"github.com/synqronlabs/smtpd/utils"
)

// Server is an SMTP server that handles concurrent connections, one Session
// per connection.
type Server struct {
	config   ServerConfig
	listener net.Listener

	// connections tracks active connections
	connMu      sync.Mutex
	connections map[net.Conn]struct{}
	connCount   atomic.Int64

	// shutdown coordination
	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
	closed     atomic.Bool
}

// NewServer creates a new SMTP server with the given configuration.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Hostname == "" {
		return nil, ErrHostnameRequired
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:      config.withDefaults(),
		connections: make(map[net.Conn]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Config returns the effective configuration, defaults applied.
func (s *Server) Config() ServerConfig {
	return s.config
}

// ListenAndServe starts the SMTP server on the configured address.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(listener) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections on the listener and handles them. It always
// returns a non-nil error; after Shutdown or Close it is ErrServerClosed.
func (s *Server) Serve(listener net.Listener) error {
	s.connMu.Lock()
	s.listener = listener
	s.connMu.Unlock()

	if s.closed.Load() {
		_ = listener.Close()
		return ErrServerClosed
	}

	s.config.Logger.Info("SMTP server started",
		slog.String("addr", listener.Addr().String()),
		slog.String("hostname", s.config.Hostname),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.config.Logger.Error("accept error", slog.Any("error", err))
			continue
		}

		// Check connection limit
		if s.config.MaxConnections > 0 && s.connCount.Load() >= int64(s.config.MaxConnections) {
			s.config.Logger.Warn("connection limit reached",
				slog.String("remote", conn.RemoteAddr().String()),
			)
			s.reject(conn, ResponseServiceUnavailable(s.config.Hostname, "Service not available, too many connections"))
			continue
		}

		s.connCount.Add(1)
		s.shutdownWg.Add(1)
		go s.handleConnection(conn)
	}
}

// reject answers conn with a single reply and closes it.
func (s *Server) reject(conn net.Conn, resp Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = conn.Write([]byte(resp.String() + "\r\n"))
	_ = conn.Close()
}

// Shutdown gracefully shuts down the server. Idle sessions are told 421
// and closed; a session in the middle of a command finishes it first.
// If ctx expires before every session ended, the remaining connections are
// closed and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.cancel()

	s.connMu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	// Wake sessions blocked in a read; each replies 421 itself.
	for conn := range s.connections {
		_ = conn.SetReadDeadline(time.Now())
	}
	s.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.closeConnections()
		return ctx.Err()
	}
}

// Close immediately closes the server and all connections.
func (s *Server) Close() error {
	s.closed.Store(true)
	s.cancel()

	s.connMu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Unlock()

	s.closeConnections()
	return nil
}

func (s *Server) closeConnections() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.connections {
		_ = conn.Close()
	}
}

// ActiveConnections returns the number of sessions in progress.
func (s *Server) ActiveConnections() int {
	return int(s.connCount.Load())
}

// handleConnection tracks conn for the lifetime of its session.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.shutdownWg.Done()

	s.connMu.Lock()
	s.connections[conn] = struct{}{}
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		delete(s.connections, conn)
		s.connMu.Unlock()
		s.connCount.Add(-1)
	}()

	// Shutdown may have run before conn was tracked.
	if s.closed.Load() {
		_ = conn.SetReadDeadline(time.Now())
	}

	_ = s.HandleSession(s.ctx, conn)
}

// HandleSession runs one SMTP session on conn: the 220 greeting, then the
// command loop until QUIT or a transport failure. conn is closed on return.
// The returned error is nil when the client quit or hung up between
// commands.
func (s *Server) HandleSession(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	id := utils.GenerateID()
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	logger := s.config.Logger.With(
		slog.String("session_id", id),
		slog.String("remote", remote),
	)

	s.config.Metrics.SessionStarted()
	defer s.config.Metrics.SessionEnded()

	var rdns string
	if s.config.ReverseDNS {
		rdns = s.reverseName(ctx, conn.RemoteAddr(), logger)
		if rdns != "" {
			logger = logger.With(slog.String("rdns", rdns))
		}
	}

	logger.Info("client connected")

	session := NewStreamSession(ctx, conn, s.config.MaxLineLength, s.config.StrictLineEndings, SessionOptions{
		ID:           id,
		Hostname:     s.config.Hostname,
		RemoteAddr:   conn.RemoteAddr(),
		Directory:    s.config.Directory,
		Store:        s.config.Store,
		Logger:       logger,
		Metrics:      s.config.Metrics,
		MaxErrors:    s.config.MaxErrors,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		DataTimeout:  s.config.DataTimeout,
	})
	session.Trace.ReverseDNS = rdns

	if err := session.Greet(); err != nil {
		logger.Error("greeting failed", slog.Any("error", err))
		return err
	}

	err := session.Serve()

	attrs := []any{
		slog.Int64("commands", session.Trace.CommandCount),
		slog.Int("errors", session.ErrorCount()),
		slog.Int64("transactions", session.Trace.TransactionCount),
	}
	if err != nil && !errors.Is(err, ErrServerClosed) {
		logger.Warn("session ended with error", append(attrs, slog.Any("error", err))...)
	} else {
		logger.Info("client disconnected", attrs...)
	}
	return err
}

// reverseName returns the forward-confirmed host name of addr, or "" when
// there is none.
func (s *Server) reverseName(ctx context.Context, addr net.Addr, logger *slog.Logger) string {
	ip, err := utils.GetIPFromAddr(addr)
	if err != nil {
		return ""
	}
	name, err := dns.VerifiedName(ctx, s.config.Resolver, ip)
	if err != nil {
		if !dns.IsNotFound(err) {
			logger.Debug("reverse DNS lookup failed", slog.Any("error", err))
		}
		return ""
	}
	return name
}
