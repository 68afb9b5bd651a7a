package smtpd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"time"

	smtpio "github.com/synqronlabs/smtpd/io"
	"github.com/synqronlabs/smtpd/metrics"
	"github.com/synqronlabs/smtpd/utils"
)

// State is the position of a session in the RFC 5321 command sequence.
type State int

const (
	// StateInit is the state before a successful HELO/EHLO.
	StateInit State = iota
	// StateGreeted indicates HELO/EHLO succeeded and no transaction is open.
	StateGreeted
	// StateMail indicates MAIL was accepted and no recipient yet.
	StateMail
	// StateRcpt indicates at least one recipient was accepted.
	StateRcpt
	// StateData indicates the DATA body is being read.
	StateData
	// StateDataDone indicates the last transaction was delivered.
	StateDataDone
)

// String returns the string representation of the session state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateGreeted:
		return "GREETED"
	case StateMail:
		return "MAIL"
	case StateRcpt:
		return "RCPT"
	case StateData:
		return "DATA"
	case StateDataDone:
		return "DATA_DONE"
	default:
		return "UNKNOWN"
	}
}

// stateSet is a bit set of states.
type stateSet uint8

func states(ss ...State) stateSet {
	var set stateSet
	for _, s := range ss {
		set |= 1 << s
	}
	return set
}

func (set stateSet) has(s State) bool {
	return set&(1<<s) != 0
}

// allStates is the source set of commands legal in every state.
var allStates = states(StateInit, StateGreeted, StateMail, StateRcpt, StateData, StateDataDone)

// transitions lists the states each verb may be issued from. A verb in any
// other state is answered with 503 and leaves the session untouched.
var transitions = map[Command]stateSet{
	CmdHelo: states(StateInit),
	CmdEhlo: states(StateInit),
	CmdMail: states(StateGreeted, StateDataDone),
	CmdRcpt: states(StateMail, StateRcpt),
	CmdData: states(StateRcpt),
	CmdRset: allStates,
	CmdNoop: allStates,
	CmdVrfy: allStates,
	CmdQuit: allStates,
	CmdExpn: allStates,
	CmdHelp: allStates,
}

// Result is the outcome of one command handler. The reply has always been
// written (or its write failed) by the time a handler returns.
type Result int

const (
	// Continue means the command succeeded and the session stays open.
	Continue Result = iota
	// Reject means the command failed recoverably; the session stays open.
	Reject
	// Terminate means the session must end.
	Terminate
)

// String returns the string representation of the result.
func (r Result) String() string {
	switch r {
	case Continue:
		return "continue"
	case Reject:
		return "reject"
	case Terminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// SessionTrace contains diagnostic information about a session.
type SessionTrace struct {
	// ID is a unique identifier for this session (for correlation in logs).
	ID string
	// RemoteAddr is the remote client address.
	RemoteAddr net.Addr
	// ConnectedAt is when the session started.
	ConnectedAt time.Time
	// ClientHostname is the argument given to HELO/EHLO.
	ClientHostname string
	// ReverseDNS is the forward-confirmed name of the client, if looked up.
	ReverseDNS string
	// CommandCount is the total number of command lines processed.
	CommandCount int64
	// TransactionCount is the number of messages delivered.
	TransactionCount int64
	// LastActivity is the timestamp of the last command.
	LastActivity time.Time
	// Errors contains the recoverable errors of the session.
	Errors []error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// ID identifies the session in logs. Generated when empty.
	ID string
	// Hostname is the server name used in replies.
	Hostname string
	// RemoteAddr is recorded in the trace.
	RemoteAddr net.Addr
	// Directory validates RCPT and VRFY addresses. Nil accepts everything.
	Directory UserDirectory
	// Store receives completed messages. Nil discards them.
	Store MailStore
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// MaxErrors closes the session after that many recoverable errors (0 = unlimited).
	MaxErrors int
	// Timeouts are applied only when the writer is a net.Conn (or otherwise
	// supports deadlines). Zero disables the deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DataTimeout  time.Duration
}

// deadliner is implemented by net.Conn.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Session is the protocol state machine of one SMTP connection. It is
// driven by a single goroutine and shares nothing with other sessions.
type Session struct {
	ctx      context.Context
	reader   LineReader
	writer   *bufio.Writer
	conn     deadliner
	hostname string

	directory UserDirectory
	store     MailStore
	logger    *slog.Logger
	metrics   *metrics.Metrics

	maxErrors    int
	readTimeout  time.Duration
	writeTimeout time.Duration
	dataTimeout  time.Duration

	state State

	// Transaction buffers. reversePath is nil outside a transaction, body is
	// nil outside DATA.
	reversePath *string
	recipients  []string
	body        *bytes.Buffer

	// err is the reason for the last Terminate, nil after QUIT.
	err error

	// Trace contains session tracing and diagnostic information.
	Trace SessionTrace
}

// NewSession creates a session reading lines from reader and writing replies
// to w. The session does not own w; the caller closes the connection.
func NewSession(ctx context.Context, reader LineReader, w io.Writer, opts SessionOptions) *Session {
	if opts.ID == "" {
		opts.ID = utils.GenerateID()
	}
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}
	if opts.Directory == nil {
		opts.Directory = acceptAll
	}
	if opts.Store == nil {
		opts.Store = discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	now := time.Now()
	s := &Session{
		ctx:          ctx,
		reader:       reader,
		writer:       bufio.NewWriter(w),
		hostname:     opts.Hostname,
		directory:    opts.Directory,
		store:        opts.Store,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		maxErrors:    opts.MaxErrors,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		dataTimeout:  opts.DataTimeout,
		state:        StateInit,
		Trace: SessionTrace{
			ID:           opts.ID,
			RemoteAddr:   opts.RemoteAddr,
			ConnectedAt:  now,
			LastActivity: now,
		},
	}
	if d, ok := w.(deadliner); ok {
		s.conn = d
	}
	return s
}

// NewStreamSession creates a session over a bidirectional stream, reading
// lines of at most maxLineLength bytes.
func NewStreamSession(ctx context.Context, rw io.ReadWriter, maxLineLength int, strict bool, opts SessionOptions) *Session {
	return NewSession(ctx, smtpio.NewLineReader(rw, maxLineLength, strict), rw, opts)
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.Trace.ID
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state
}

// ReversePath returns the sender of the open transaction. ok is false when
// no transaction is open.
func (s *Session) ReversePath() (path string, ok bool) {
	if s.reversePath == nil {
		return "", false
	}
	return *s.reversePath, true
}

// Recipients returns a copy of the accepted recipients, in RCPT order.
func (s *Session) Recipients() []string {
	return slices.Clone(s.recipients)
}

// Body returns the message body accumulated so far. ok is false when no body
// buffer exists.
func (s *Session) Body() (body []byte, ok bool) {
	if s.body == nil {
		return nil, false
	}
	return s.body.Bytes(), true
}

// Err returns the reason the session terminated, or nil after QUIT.
func (s *Session) Err() error {
	return s.err
}

// clearTransaction drops the reverse path, recipients and body together.
func (s *Session) clearTransaction() {
	s.reversePath = nil
	s.recipients = nil
	s.body = nil
}

// RecordError records a recoverable error for this session.
func (s *Session) RecordError(err error) {
	s.Trace.Errors = append(s.Trace.Errors, err)
}

// ErrorCount returns the number of errors recorded for this session.
func (s *Session) ErrorCount() int {
	return len(s.Trace.Errors)
}

// allowed reports whether cmd may be issued in the current state.
func (s *Session) allowed(cmd Command) bool {
	return transitions[cmd].has(s.state)
}

// writeResponse sends a single reply line and flushes it.
func (s *Session) writeResponse(resp Response) error {
	if s.conn != nil && s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}

	if _, err := s.writer.WriteString(resp.String() + "\r\n"); err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}
	s.metrics.Reply(int(resp.Code))
	return nil
}

// respond writes resp and returns result, or Terminate when the write fails.
func (s *Session) respond(resp Response, result Result) Result {
	if err := s.writeResponse(resp); err != nil {
		s.err = err
		return Terminate
	}
	return result
}

// setReadDeadline applies d to the next read, if deadlines are supported.
func (s *Session) setReadDeadline(d time.Duration) error {
	if s.conn == nil || d <= 0 {
		return nil
	}
	return s.conn.SetReadDeadline(time.Now().Add(d))
}

// Greet sends the 220 service ready reply.
func (s *Session) Greet() error {
	return s.writeResponse(ResponseServiceReady(s.hostname))
}

// Serve runs the command loop until QUIT, end of stream or a fatal error.
// It returns nil when the client quit or closed the stream between
// commands.
func (s *Session) Serve() error {
	for {
		// The deadline is set first so a concurrent Shutdown, which cancels
		// ctx before expiring the deadline, is never missed.
		if err := s.setReadDeadline(s.readTimeout); err != nil {
			return err
		}
		if err := s.ctx.Err(); err != nil {
			return s.closeForShutdown()
		}

		line, err := s.reader.ReadLine()
		if err != nil {
			return s.readFailed(err)
		}

		s.Trace.CommandCount++
		s.Trace.LastActivity = time.Now()

		switch s.dispatch(string(line)) {
		case Terminate:
			return s.err
		case Reject:
			if s.maxErrors > 0 && s.ErrorCount() >= s.maxErrors {
				s.logger.Warn("too many errors", slog.Int("errors", s.ErrorCount()))
				_ = s.writeResponse(ResponseServiceUnavailable(s.hostname, "Too many errors, closing connection"))
				return ErrTooManyErrors
			}
		}
	}
}

// readFailed maps a failed command read to the session's final error,
// replying first where the peer can still be told something.
func (s *Session) readFailed(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case s.ctx.Err() != nil:
		return s.closeForShutdown()
	case isFramingError(err):
		s.logger.Warn("malformed command line", slog.Any("error", err))
		_ = s.writeResponse(ResponseCommandNotRecognized())
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		_ = s.writeResponse(ResponseServiceUnavailable(s.hostname, "Timeout waiting for command"))
		return ErrTimeout
	}
	return err
}

// isFramingError reports whether err is a line the reader refused, as
// opposed to a stream that failed or ended.
func isFramingError(err error) bool {
	return errors.Is(err, smtpio.ErrLineTooLong) ||
		errors.Is(err, smtpio.ErrNullByte) ||
		errors.Is(err, smtpio.ErrBadLineEnding)
}

// closeForShutdown tells the client the server is going away.
func (s *Session) closeForShutdown() error {
	_ = s.writeResponse(ResponseServiceUnavailable(s.hostname, "Service shutting down"))
	return ErrServerClosed
}

// dispatch parses one command line and runs its handler.
func (s *Session) dispatch(line string) Result {
	cmd, args, err := parseCommand(line)
	if err != nil {
		s.metrics.Command("unknown")
		s.logger.Debug("unrecognized command", slog.String("line", line))
		s.RecordError(err)
		return s.respond(ResponseCommandNotRecognized(), Reject)
	}

	s.metrics.Command(string(cmd))
	s.logger.Debug("command received",
		slog.String("cmd", string(cmd)),
		slog.Int("args", len(args)),
		slog.String("state", s.state.String()),
	)

	var result Result
	switch cmd {
	case CmdHelo, CmdEhlo:
		result = s.handleHelo(cmd, args)
	case CmdMail:
		result = s.handleMail(args)
	case CmdRcpt:
		result = s.handleRcpt(args)
	case CmdData:
		result = s.handleData(args)
	case CmdRset:
		result = s.handleRset(args)
	case CmdNoop:
		result = s.handleNoop(args)
	case CmdVrfy:
		result = s.handleVrfy(args)
	case CmdQuit:
		result = s.handleQuit(args)
	case CmdExpn, CmdHelp:
		s.RecordError(errors.New("command not implemented: " + string(cmd)))
		result = s.respond(ResponseCommandNotImplemented(), Reject)
	}
	return result
}
