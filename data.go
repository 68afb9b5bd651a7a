package smtpd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// trailingSpace is stripped from the end of every DATA line.
const trailingSpace = " \t\r\n\v\f"

// readBody reads DATA lines into body until the terminator line ".".
// Each body line has one leading dot removed and is stored with CRLF.
// End of stream before the terminator yields io.ErrUnexpectedEOF.
func readBody(r LineReader, body *bytes.Buffer) error {
	for {
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		line = bytes.TrimRight(line, trailingSpace)
		if len(line) == 1 && line[0] == '.' {
			return nil
		}

		// RFC 5321 Section 4.5.2
		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}
		body.Write(line)
		body.WriteString("\r\n")
	}
}

// handleData runs the DATA phase: 354, body accumulation, hand-off to the
// store and the final reply.
func (s *Session) handleData(args []string) Result {
	if !s.allowed(CmdData) {
		return s.badSequence(CmdData)
	}
	if len(args) != 0 {
		return s.syntaxError(CmdData)
	}

	s.state = StateData
	s.body = new(bytes.Buffer)

	if err := s.writeResponse(ResponseStartMailInput()); err != nil {
		s.err = err
		return Terminate
	}
	if err := s.setReadDeadline(s.dataTimeout); err != nil {
		s.err = err
		return Terminate
	}

	if err := readBody(s.reader, s.body); err != nil {
		s.clearTransaction()
		if s.ctx.Err() != nil {
			s.err = s.closeForShutdown()
			return Terminate
		}
		if isFramingError(err) {
			s.logger.Warn("malformed message line", slog.Any("error", err))
			s.err = err
			return s.respond(ResponseCommandNotRecognized(), Terminate)
		}
		s.logger.Warn("incomplete message data", slog.Any("error", err))
		s.err = fmt.Errorf("%w: %w", ErrIncompleteData, err)
		return s.respond(ResponseIncompleteData(), Terminate)
	}

	body := s.body.Bytes()
	recipients := s.recipients
	if err := s.store.Deliver(s.ctx, body, recipients); err != nil {
		s.metrics.DeliveryFailed()
		s.logger.Warn("delivery failed",
			slog.Int("recipients", len(recipients)),
			slog.Int("size", len(body)),
			slog.Any("error", err),
		)
		s.RecordError(err)
		s.clearTransaction()
		s.state = StateGreeted
		return s.respond(ResponseTransactionFailed("Transaction failed"), Reject)
	}

	s.metrics.Delivered(len(body))
	s.Trace.TransactionCount++
	s.logger.Info("message delivered",
		slog.Int("recipients", len(recipients)),
		slog.Int("size", len(body)),
	)

	s.clearTransaction()
	s.state = StateDataDone
	return s.respond(ResponseOK("OK data done"), Continue)
}
