package smtpd

import (
	"fmt"
	"log/slog"
	"strings"
)

// badSequence rejects a command issued in the wrong state.
func (s *Session) badSequence(cmd Command) Result {
	s.RecordError(fmt.Errorf("%w: %s in state %s", ErrBadSequence, cmd, s.state))
	return s.respond(ResponseBadSequence(), Reject)
}

// syntaxError rejects a command with malformed arguments.
func (s *Session) syntaxError(cmd Command) Result {
	s.RecordError(fmt.Errorf("%w: %s", ErrSyntax, cmd))
	return s.respond(ResponseSyntaxError(), Reject)
}

// handleHelo processes HELO and EHLO. Both are acknowledged identically;
// no extensions are advertised.
func (s *Session) handleHelo(cmd Command, args []string) Result {
	if !s.allowed(cmd) {
		return s.badSequence(cmd)
	}
	if len(args) != 1 {
		return s.syntaxError(cmd)
	}

	s.clearTransaction()
	s.state = StateGreeted
	s.Trace.ClientHostname = args[0]
	s.logger.Debug("client greeted", slog.String("client_hostname", args[0]))

	return s.respond(ResponseOK(s.hostname), Continue)
}

// handleMail processes MAIL FROM:<path>. Any previous transaction is
// discarded.
func (s *Session) handleMail(args []string) Result {
	if len(args) != 1 {
		return s.syntaxError(CmdMail)
	}
	path, err := ParseReversePath(args[0])
	if err != nil {
		return s.syntaxError(CmdMail)
	}
	if !s.allowed(CmdMail) {
		return s.badSequence(CmdMail)
	}

	s.clearTransaction()
	s.reversePath = &path
	s.state = StateMail

	return s.respond(ResponseOK("OK (mail)"), Continue)
}

// handleRcpt processes RCPT TO:<path>. A rejected recipient leaves the
// session where it was so the client can try another.
func (s *Session) handleRcpt(args []string) Result {
	if len(args) != 1 {
		return s.syntaxError(CmdRcpt)
	}
	path, err := ParseForwardPath(args[0])
	if err != nil {
		return s.syntaxError(CmdRcpt)
	}
	if !s.allowed(CmdRcpt) {
		return s.badSequence(CmdRcpt)
	}

	if !s.directory.IsValidUser(s.ctx, path) {
		s.metrics.RecipientRejected()
		s.logger.Warn("recipient rejected", slog.String("rcpt", path))
		s.RecordError(fmt.Errorf("%w: %s", ErrRecipientInvalid, path))
		return s.respond(ResponseMailboxNotFound(path), Reject)
	}

	s.recipients = append(s.recipients, path)
	s.state = StateRcpt

	return s.respond(ResponseOK("OK (rcpt)"), Continue)
}

// handleRset aborts the current transaction. Before HELO there is nothing to
// reset and the session stays in INIT.
func (s *Session) handleRset(args []string) Result {
	if len(args) != 0 {
		return s.syntaxError(CmdRset)
	}

	if s.state != StateInit {
		s.clearTransaction()
		s.state = StateGreeted
	}
	return s.respond(ResponseOK("State reset"), Continue)
}

func (s *Session) handleNoop([]string) Result {
	return s.respond(ResponseOK("OK (noop)"), Continue)
}

// handleVrfy asks the directory about a single address, with or without
// angle brackets.
func (s *Session) handleVrfy(args []string) Result {
	if len(args) != 1 {
		return s.syntaxError(CmdVrfy)
	}

	address := args[0]
	if len(address) >= 2 && strings.HasPrefix(address, "<") && strings.HasSuffix(address, ">") {
		address = address[1 : len(address)-1]
	}

	if !s.directory.IsValidUser(s.ctx, address) {
		s.RecordError(fmt.Errorf("%w: %s", ErrRecipientInvalid, address))
		return s.respond(ResponseMailboxNotFound(address), Reject)
	}
	return s.respond(ResponseOK(address), Continue)
}

// handleQuit acknowledges QUIT. The session ends whether or not the reply
// could be written.
func (s *Session) handleQuit([]string) Result {
	return s.respond(ResponseServiceClosing(s.hostname), Terminate)
}
