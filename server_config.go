package smtpd

import (
	"log/slog"
	"time"

	"github.com/synqronlabs/smtpd/dns"
	smtpio "github.com/synqronlabs/smtpd/io"
	"github.com/synqronlabs/smtpd/metrics"
)

// ServerConfig contains configuration options for the SMTP server.
//
// For a more developer-friendly API, consider using the builder pattern:
//
//	server, err := smtpd.New("mail.example.com").
//	    Addr(":2525").
//	    Directory(users).
//	    Store(mailboxes).
//	    Build()
type ServerConfig struct {
	// Hostname is the server's name used in the greeting and replies.
	// Required.
	Hostname string

	// Addr is the address to listen on (e.g., ":25", "0.0.0.0:2525").
	// Default: ":25"
	Addr string

	// MaxLineLength is the maximum length of a line, terminator included.
	// Longer lines close the connection.
	// Default: 1024
	MaxLineLength int

	// StrictLineEndings rejects lines terminated by a bare LF.
	StrictLineEndings bool

	// MaxConnections limits concurrent sessions (0 = unlimited).
	MaxConnections int

	// MaxErrors closes a session after that many rejected commands (0 = unlimited).
	MaxErrors int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DataTimeout  time.Duration

	// ShutdownTimeout bounds the graceful shutdown performed by Run.
	ShutdownTimeout time.Duration

	// ReverseDNS looks up the forward-confirmed name of every client
	// through Resolver before the greeting.
	ReverseDNS bool
	Resolver   dns.Resolver

	// Directory validates RCPT and VRFY addresses. Nil accepts every address.
	Directory UserDirectory

	// Store receives delivered messages. Nil discards them.
	Store MailStore

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":25",
		MaxLineLength:   smtpio.DefaultMaxLineLength,
		ReadTimeout:     5 * time.Minute,
		WriteTimeout:    5 * time.Minute,
		DataTimeout:     10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		Logger:          slog.Default(),
	}
}

// withDefaults fills the zero fields of config from DefaultServerConfig.
func (config ServerConfig) withDefaults() ServerConfig {
	defaults := DefaultServerConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = defaults.MaxLineLength
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.DataTimeout == 0 {
		config.DataTimeout = defaults.DataTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReverseDNS && config.Resolver == nil {
		config.Resolver = dns.NewResolver(dns.ResolverConfig{})
	}
	return config
}
