package smtpd

import (
	"context"
	"log/slog"
	"time"

	"github.com/synqronlabs/smtpd/dns"
	"github.com/synqronlabs/smtpd/metrics"
)

// ServerBuilder provides a fluent API for configuring an SMTP server.
type ServerBuilder struct {
	config ServerConfig
}

// New creates a new ServerBuilder.
func New(hostname string) *ServerBuilder {
	config := DefaultServerConfig()
	config.Hostname = hostname
	return &ServerBuilder{config: config}
}

// Addr sets the address to listen on (e.g., ":25", "0.0.0.0:2525").
func (b *ServerBuilder) Addr(addr string) *ServerBuilder {
	b.config.Addr = addr
	return b
}

// Logger sets the logger for the server.
func (b *ServerBuilder) Logger(logger *slog.Logger) *ServerBuilder {
	b.config.Logger = logger
	return b
}

// Directory sets the user directory consulted by RCPT and VRFY.
func (b *ServerBuilder) Directory(directory UserDirectory) *ServerBuilder {
	b.config.Directory = directory
	return b
}

// Store sets the sink for delivered messages.
func (b *ServerBuilder) Store(store MailStore) *ServerBuilder {
	b.config.Store = store
	return b
}

// Metrics enables Prometheus instrumentation.
func (b *ServerBuilder) Metrics(m *metrics.Metrics) *ServerBuilder {
	b.config.Metrics = m
	return b
}

// ReverseDNS enables forward-confirmed reverse DNS of clients. A nil
// resolver uses the system nameservers.
func (b *ServerBuilder) ReverseDNS(resolver dns.Resolver) *ServerBuilder {
	b.config.ReverseDNS = true
	b.config.Resolver = resolver
	return b
}

// ReadTimeout sets the timeout for reading a command.
func (b *ServerBuilder) ReadTimeout(d time.Duration) *ServerBuilder {
	b.config.ReadTimeout = d
	return b
}

// WriteTimeout sets the timeout for writing a reply.
func (b *ServerBuilder) WriteTimeout(d time.Duration) *ServerBuilder {
	b.config.WriteTimeout = d
	return b
}

// DataTimeout sets the timeout for receiving a message body.
func (b *ServerBuilder) DataTimeout(d time.Duration) *ServerBuilder {
	b.config.DataTimeout = d
	return b
}

// MaxConnections sets the maximum concurrent connections (0 = unlimited).
func (b *ServerBuilder) MaxConnections(n int) *ServerBuilder {
	b.config.MaxConnections = n
	return b
}

// MaxErrors sets the maximum rejected commands per session (0 = unlimited).
func (b *ServerBuilder) MaxErrors(n int) *ServerBuilder {
	b.config.MaxErrors = n
	return b
}

// MaxLineLength sets the maximum line length, terminator included.
func (b *ServerBuilder) MaxLineLength(n int) *ServerBuilder {
	b.config.MaxLineLength = n
	return b
}

// StrictLineEndings rejects lines not terminated by CRLF.
func (b *ServerBuilder) StrictLineEndings() *ServerBuilder {
	b.config.StrictLineEndings = true
	return b
}

// ShutdownTimeout sets the graceful shutdown timeout used by Run.
func (b *ServerBuilder) ShutdownTimeout(d time.Duration) *ServerBuilder {
	b.config.ShutdownTimeout = d
	return b
}

// Build creates a Server from the builder configuration.
func (b *ServerBuilder) Build() (*Server, error) {
	return NewServer(b.config)
}

// Run builds and serves until ctx is cancelled.
// This is a convenience method equivalent to Build() followed by Server.Run.
func (b *ServerBuilder) Run(ctx context.Context) error {
	server, err := b.Build()
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
