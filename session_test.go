package smtpd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"

	smtpio "github.com/synqronlabs/smtpd/io"
)

// scriptReader is a LineReader replaying fixed lines, then returning err
// (io.EOF when nil).
type scriptReader struct {
	lines []string
	err   error
}

func (r *scriptReader) ReadLine() ([]byte, error) {
	if len(r.lines) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		return nil, io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return []byte(line), nil
}

// delivery records one MailStore hand-off.
type delivery struct {
	body       []byte
	recipients []string
}

// recordingStore is a MailStore capturing deliveries.
type recordingStore struct {
	deliveries []delivery
	err        error
}

func (s *recordingStore) Deliver(_ context.Context, body []byte, recipients []string) error {
	if s.err != nil {
		return s.err
	}
	s.deliveries = append(s.deliveries, delivery{body: bytes.Clone(body), recipients: slices.Clone(recipients)})
	return nil
}

// knownUsers accepts only the listed addresses.
func knownUsers(addrs ...string) UserDirectory {
	return UserDirectoryFunc(func(_ context.Context, address string) bool {
		return slices.Contains(addrs, address)
	})
}

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testSession struct {
	*Session
	reader *scriptReader
	out    *bytes.Buffer
	store  *recordingStore
}

func newTestSession(t *testing.T, directory UserDirectory) *testSession {
	t.Helper()
	reader := &scriptReader{}
	out := &bytes.Buffer{}
	store := &recordingStore{}
	s := NewSession(context.Background(), reader, out, SessionOptions{
		Hostname:  "mx.example.com",
		Directory: directory,
		Store:     store,
		Logger:    discardLogger(),
	})
	return &testSession{Session: s, reader: reader, out: out, store: store}
}

// send dispatches one command line and returns its result and the reply
// lines written for it.
func (ts *testSession) send(line string, dataLines ...string) (Result, []string) {
	ts.out.Reset()
	ts.reader.lines = dataLines
	result := ts.dispatch(line)
	return result, replyLines(ts.out.String())
}

func replyLines(s string) []string {
	s = strings.TrimSuffix(s, "\r\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\r\n")
}

// setState forces the session into st with buffers consistent with it.
func setState(s *Session, st State) {
	s.clearTransaction()
	s.state = st
	if st == StateMail || st == StateRcpt || st == StateData {
		from := "sender@example.org"
		s.reversePath = &from
	}
	if st == StateRcpt || st == StateData {
		s.recipients = []string{"rcpt@example.com"}
	}
	if st == StateData {
		s.body = bytes.NewBufferString("partial\r\n")
	}
}

type snapshot struct {
	state       State
	reversePath string
	hasPath     bool
	recipients  []string
	body        string
	hasBody     bool
}

func snap(s *Session) snapshot {
	path, hasPath := s.ReversePath()
	body, hasBody := s.Body()
	return snapshot{
		state:       s.State(),
		reversePath: path,
		hasPath:     hasPath,
		recipients:  s.Recipients(),
		body:        string(body),
		hasBody:     hasBody,
	}
}

func (a snapshot) equal(b snapshot) bool {
	return a.state == b.state &&
		a.reversePath == b.reversePath &&
		a.hasPath == b.hasPath &&
		slices.Equal(a.recipients, b.recipients) &&
		a.body == b.body &&
		a.hasBody == b.hasBody
}

func expectReply(t *testing.T, lines []string, want string) {
	t.Helper()
	if len(lines) != 1 {
		t.Fatalf("expected exactly one reply, got %q", lines)
	}
	if lines[0] != want {
		t.Errorf("reply = %q, want %q", lines[0], want)
	}
}

func expectCode(t *testing.T, lines []string, code string) {
	t.Helper()
	if len(lines) == 0 {
		t.Fatalf("expected a %s reply, got none", code)
	}
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, code+" ") {
		t.Errorf("reply = %q, want code %s", last, code)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInit, "INIT"},
		{StateGreeted, "GREETED"},
		{StateMail, "MAIL"},
		{StateRcpt, "RCPT"},
		{StateData, "DATA"},
		{StateDataDone, "DATA_DONE"},
		{State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestOutOfSequenceCommandsLeaveSessionUntouched(t *testing.T) {
	lines := map[Command]string{
		CmdHelo: "HELO client.example.org",
		CmdEhlo: "EHLO client.example.org",
		CmdMail: "MAIL FROM:<other@example.org>",
		CmdRcpt: "RCPT TO:<rcpt@example.com>",
		CmdData: "DATA",
	}
	allStatesList := []State{StateInit, StateGreeted, StateMail, StateRcpt, StateData, StateDataDone}

	for cmd, line := range lines {
		for _, st := range allStatesList {
			if transitions[cmd].has(st) {
				continue
			}
			t.Run(string(cmd)+"/"+st.String(), func(t *testing.T) {
				ts := newTestSession(t, nil)
				setState(ts.Session, st)
				before := snap(ts.Session)

				result, reply := ts.send(line)

				if result != Reject {
					t.Errorf("result = %v, want reject", result)
				}
				expectReply(t, reply, "503 Bad sequence of commands")
				if after := snap(ts.Session); !after.equal(before) {
					t.Errorf("session changed: before %+v, after %+v", before, after)
				}
			})
		}
	}
}

func TestHelo(t *testing.T) {
	for _, verb := range []string{"HELO", "EHLO", "helo", "eHlO"} {
		t.Run(verb, func(t *testing.T) {
			ts := newTestSession(t, nil)

			result, reply := ts.send(verb + " client.example.org")
			if result != Continue {
				t.Fatalf("result = %v", result)
			}
			expectReply(t, reply, "250 mx.example.com")

			if ts.State() != StateGreeted {
				t.Errorf("state = %v, want GREETED", ts.State())
			}
			if _, ok := ts.ReversePath(); ok {
				t.Error("reverse path should be empty")
			}
			if len(ts.Recipients()) != 0 {
				t.Error("recipients should be empty")
			}
			if _, ok := ts.Body(); ok {
				t.Error("body should be empty")
			}
			if ts.Trace.ClientHostname != "client.example.org" {
				t.Errorf("client hostname = %q", ts.Trace.ClientHostname)
			}
		})
	}
}

func TestHeloArguments(t *testing.T) {
	ts := newTestSession(t, nil)

	_, reply := ts.send("HELO")
	expectReply(t, reply, "501 Syntax error in parameters or arguments")

	_, reply = ts.send("HELO a b")
	expectCode(t, reply, "501")

	if ts.State() != StateInit {
		t.Errorf("state = %v, want INIT", ts.State())
	}

	// State is checked before arguments.
	setState(ts.Session, StateGreeted)
	_, reply = ts.send("HELO")
	expectCode(t, reply, "503")
}

func TestMail(t *testing.T) {
	for _, st := range []State{StateGreeted, StateDataDone} {
		t.Run(st.String(), func(t *testing.T) {
			ts := newTestSession(t, nil)
			setState(ts.Session, st)

			result, reply := ts.send("MAIL FROM:<alice@example.org>")
			if result != Continue {
				t.Fatalf("result = %v", result)
			}
			expectReply(t, reply, "250 OK (mail)")

			path, ok := ts.ReversePath()
			if !ok || path != "alice@example.org" {
				t.Errorf("reverse path = %q, %v", path, ok)
			}
			if len(ts.Recipients()) != 0 {
				t.Errorf("recipients = %v, want none", ts.Recipients())
			}
			if ts.State() != StateMail {
				t.Errorf("state = %v, want MAIL", ts.State())
			}
		})
	}
}

func TestMailNullReversePath(t *testing.T) {
	ts := newTestSession(t, nil)
	setState(ts.Session, StateGreeted)

	_, reply := ts.send("mail from:<>")
	expectReply(t, reply, "250 OK (mail)")

	path, ok := ts.ReversePath()
	if !ok || path != "" {
		t.Errorf("reverse path = %q, %v; want empty and present", path, ok)
	}
}

func TestMailSyntaxCheckedBeforeState(t *testing.T) {
	tests := []string{
		"MAIL",
		"MAIL FROM:",
		"MAIL FROM:alice@example.org",
		"MAIL TO:<alice@example.org>",
		"MAIL FROM:<alice@example.org> SIZE=100",
		"MAIL FROM: <alice@example.org>",
	}
	for _, line := range tests {
		t.Run(line, func(t *testing.T) {
			ts := newTestSession(t, nil)
			result, reply := ts.send(line)
			if result != Reject {
				t.Errorf("result = %v, want reject", result)
			}
			expectCode(t, reply, "501")
			if ts.State() != StateInit {
				t.Errorf("state = %v", ts.State())
			}
		})
	}
}

func TestRcptPreservesOrderAndDuplicates(t *testing.T) {
	ts := newTestSession(t, nil)
	setState(ts.Session, StateGreeted)
	ts.send("MAIL FROM:<sender@example.org>")

	for _, rcpt := range []string{"a@example.com", "b@example.com", "a@example.com"} {
		result, reply := ts.send("RCPT TO:<" + rcpt + ">")
		if result != Continue {
			t.Fatalf("RCPT %s result = %v", rcpt, result)
		}
		expectReply(t, reply, "250 OK (rcpt)")
	}

	want := []string{"a@example.com", "b@example.com", "a@example.com"}
	if got := ts.Recipients(); !slices.Equal(got, want) {
		t.Errorf("recipients = %v, want %v", got, want)
	}
	if ts.State() != StateRcpt {
		t.Errorf("state = %v, want RCPT", ts.State())
	}
}

func TestRcptRejectedByDirectory(t *testing.T) {
	ts := newTestSession(t, knownUsers("bob@example.com"))
	setState(ts.Session, StateGreeted)
	ts.send("MAIL FROM:<sender@example.org>")

	result, reply := ts.send("RCPT TO:<mallory@example.com>")
	if result != Reject {
		t.Errorf("result = %v, want reject", result)
	}
	expectReply(t, reply, "550 No such user - mallory@example.com")
	if ts.State() != StateMail {
		t.Errorf("state = %v, want MAIL", ts.State())
	}
	if len(ts.Recipients()) != 0 {
		t.Errorf("recipients = %v", ts.Recipients())
	}
	if !errors.Is(ts.Trace.Errors[0], ErrRecipientInvalid) {
		t.Errorf("recorded error = %v", ts.Trace.Errors[0])
	}

	// The client may retry with a valid recipient.
	result, _ = ts.send("RCPT TO:<bob@example.com>")
	if result != Continue || ts.State() != StateRcpt {
		t.Errorf("retry: result = %v, state = %v", result, ts.State())
	}

	// A later rejection keeps the state at RCPT.
	ts.send("RCPT TO:<mallory@example.com>")
	if ts.State() != StateRcpt || len(ts.Recipients()) != 1 {
		t.Errorf("state = %v, recipients = %v", ts.State(), ts.Recipients())
	}
}

func TestRcptSyntax(t *testing.T) {
	ts := newTestSession(t, nil)

	// Syntax before state: malformed RCPT in INIT is 501, not 503.
	_, reply := ts.send("RCPT TO:")
	expectCode(t, reply, "501")
	_, reply = ts.send("RCPT")
	expectCode(t, reply, "501")
	_, reply = ts.send("RCPT TO:<x@example.com>")
	expectCode(t, reply, "503")
}

func TestData(t *testing.T) {
	ts := newTestSession(t, nil)
	setState(ts.Session, StateGreeted)
	ts.send("MAIL FROM:<sender@example.org>")
	ts.send("RCPT TO:<a@example.com>")
	ts.send("RCPT TO:<b@example.com>")

	result, reply := ts.send("DATA", "Hello", ".World", ".")
	if result != Continue {
		t.Fatalf("result = %v", result)
	}
	if len(reply) != 2 {
		t.Fatalf("replies = %q", reply)
	}
	expectCode(t, reply[:1], "354")
	if reply[1] != "250 OK data done" {
		t.Errorf("final reply = %q", reply[1])
	}

	if len(ts.store.deliveries) != 1 {
		t.Fatalf("deliveries = %d", len(ts.store.deliveries))
	}
	d := ts.store.deliveries[0]
	if string(d.body) != "Hello\r\nWorld\r\n" {
		t.Errorf("body = %q", d.body)
	}
	if !slices.Equal(d.recipients, []string{"a@example.com", "b@example.com"}) {
		t.Errorf("recipients = %v", d.recipients)
	}

	if ts.State() != StateDataDone {
		t.Errorf("state = %v, want DATA_DONE", ts.State())
	}
	if _, ok := ts.ReversePath(); ok {
		t.Error("reverse path not cleared")
	}
	if len(ts.Recipients()) != 0 {
		t.Error("recipients not cleared")
	}
	if _, ok := ts.Body(); ok {
		t.Error("body not cleared")
	}
	if ts.Trace.TransactionCount != 1 {
		t.Errorf("transactions = %d", ts.Trace.TransactionCount)
	}

	// A new transaction may start right away.
	_, reply = ts.send("MAIL FROM:<next@example.org>")
	expectCode(t, reply, "250")
}

func TestDataEmptyBody(t *testing.T) {
	ts := newTestSession(t, nil)
	setState(ts.Session, StateRcpt)

	result, _ := ts.send("DATA", ".")
	if result != Continue {
		t.Fatalf("result = %v", result)
	}
	if len(ts.store.deliveries) != 1 || len(ts.store.deliveries[0].body) != 0 {
		t.Errorf("deliveries = %+v, want one empty body", ts.store.deliveries)
	}
}

func TestDataArguments(t *testing.T) {
	ts := newTestSession(t, nil)
	setState(ts.Session, StateRcpt)

	_, reply := ts.send("DATA now")
	expectReply(t, reply, "501 Syntax error in parameters or arguments")
	if ts.State() != StateRcpt {
		t.Errorf("state = %v", ts.State())
	}

	// State is checked before arguments.
	setState(ts.Session, StateMail)
	_, reply = ts.send("DATA now")
	expectCode(t, reply, "503")
}

func TestDataIncomplete(t *testing.T) {
	ts := newTestSession(t, nil)
	setState(ts.Session, StateRcpt)

	result, reply := ts.send("DATA", "Subject: cut short", "partial body")
	if result != Terminate {
		t.Errorf("result = %v, want terminate", result)
	}
	if len(reply) != 2 || reply[1] != "501 Incomplete message data, closing connection" {
		t.Errorf("replies = %q", reply)
	}
	if !errors.Is(ts.Err(), ErrIncompleteData) {
		t.Errorf("Err() = %v", ts.Err())
	}
	if len(ts.store.deliveries) != 0 {
		t.Error("incomplete message must not be delivered")
	}
}

func TestDataDeliveryFailure(t *testing.T) {
	ts := newTestSession(t, nil)
	ts.store.err = errors.New("disk full")
	setState(ts.Session, StateRcpt)

	result, reply := ts.send("DATA", "body", ".")
	if result != Reject {
		t.Errorf("result = %v, want reject", result)
	}
	expectCode(t, reply, "554")
	if ts.State() != StateGreeted {
		t.Errorf("state = %v, want GREETED", ts.State())
	}
	if len(ts.Recipients()) != 0 {
		t.Error("recipients not cleared")
	}
}

func TestRset(t *testing.T) {
	ts := newTestSession(t, nil)

	result, reply := ts.send("RSET")
	if result != Continue {
		t.Errorf("result = %v", result)
	}
	expectReply(t, reply, "250 State reset")
	if ts.State() != StateInit {
		t.Errorf("RSET in INIT moved to %v", ts.State())
	}

	for _, st := range []State{StateGreeted, StateMail, StateRcpt, StateData, StateDataDone} {
		setState(ts.Session, st)
		ts.send("RSET")
		if ts.State() != StateGreeted {
			t.Errorf("RSET in %v moved to %v, want GREETED", st, ts.State())
		}
		if _, ok := ts.ReversePath(); ok {
			t.Errorf("RSET in %v kept reverse path", st)
		}
		if len(ts.Recipients()) != 0 {
			t.Errorf("RSET in %v kept recipients", st)
		}
		if _, ok := ts.Body(); ok {
			t.Errorf("RSET in %v kept body", st)
		}
	}

	setState(ts.Session, StateRcpt)
	_, reply = ts.send("RSET now")
	expectCode(t, reply, "501")
	if ts.State() != StateRcpt {
		t.Errorf("RSET with arguments changed state to %v", ts.State())
	}
}

func TestNoop(t *testing.T) {
	ts := newTestSession(t, nil)
	setState(ts.Session, StateRcpt)
	before := snap(ts.Session)

	_, reply := ts.send("NOOP")
	expectReply(t, reply, "250 OK (noop)")
	if !snap(ts.Session).equal(before) {
		t.Error("NOOP changed the session")
	}
}

func TestVrfy(t *testing.T) {
	ts := newTestSession(t, knownUsers("bob@example.com"))
	setState(ts.Session, StateMail)
	before := snap(ts.Session)

	result, reply := ts.send("VRFY bob@example.com")
	if result != Continue {
		t.Errorf("result = %v", result)
	}
	expectReply(t, reply, "250 bob@example.com")

	_, reply = ts.send("VRFY <bob@example.com>")
	expectReply(t, reply, "250 bob@example.com")

	result, reply = ts.send("VRFY eve@example.com")
	if result != Reject {
		t.Errorf("result = %v", result)
	}
	expectReply(t, reply, "550 No such user - eve@example.com")

	_, reply = ts.send("VRFY")
	expectCode(t, reply, "501")

	if !snap(ts.Session).equal(before) {
		t.Error("VRFY changed the session")
	}
}

func TestQuit(t *testing.T) {
	for _, st := range []State{StateInit, StateGreeted, StateRcpt, StateDataDone} {
		t.Run(st.String(), func(t *testing.T) {
			ts := newTestSession(t, nil)
			setState(ts.Session, st)

			result, reply := ts.send("QUIT")
			if result != Terminate {
				t.Errorf("result = %v, want terminate", result)
			}
			expectReply(t, reply, "221 mx.example.com Service closing transmission channel")
			if ts.Err() != nil {
				t.Errorf("Err() = %v, want nil", ts.Err())
			}
		})
	}
}

func TestUnknownAndUnimplementedCommands(t *testing.T) {
	tests := []struct {
		line  string
		reply string
	}{
		{"EXPN staff", "502 Command not implemented"},
		{"HELP", "502 Command not implemented"},
		{"help me", "502 Command not implemented"},
		{"FOO bar", "500 Syntax error, command unrecognized"},
		{"MAILX FROM:<a@b>", "500 Syntax error, command unrecognized"},
		{"HEL", "500 Syntax error, command unrecognized"},
		{"STARTTLS", "500 Syntax error, command unrecognized"},
		{"", "500 Syntax error, command unrecognized"},
		{"   \t ", "500 Syntax error, command unrecognized"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ts := newTestSession(t, nil)
			setState(ts.Session, StateMail)
			before := snap(ts.Session)

			result, reply := ts.send(tt.line)
			if result != Reject {
				t.Errorf("result = %v, want reject", result)
			}
			expectReply(t, reply, tt.reply)
			if !snap(ts.Session).equal(before) {
				t.Error("session changed")
			}
		})
	}
}

// failingWriter fails every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteFailureTerminates(t *testing.T) {
	s := NewSession(context.Background(), &scriptReader{lines: []string{"NOOP", "NOOP"}}, failingWriter{}, SessionOptions{
		Logger: discardLogger(),
	})

	err := s.Serve()
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Serve() = %v, want io.ErrClosedPipe", err)
	}
	if s.Trace.CommandCount != 1 {
		t.Errorf("commands processed = %d, want 1", s.Trace.CommandCount)
	}
}

func TestServeConversation(t *testing.T) {
	reader := &scriptReader{lines: []string{
		"EHLO client.example.org",
		"MAIL FROM:<alice@example.org>",
		"RCPT TO:<bob@example.com>",
		"DATA",
		"Subject: hi",
		"",
		"..dotted",
		".",
		"QUIT",
		"NOOP",
	}}
	out := &bytes.Buffer{}
	store := &recordingStore{}
	s := NewSession(context.Background(), reader, out, SessionOptions{
		Hostname: "mx.example.com",
		Store:    store,
		Logger:   discardLogger(),
	})

	if err := s.Greet(); err != nil {
		t.Fatalf("Greet() error: %v", err)
	}
	if err := s.Serve(); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	want := []string{
		"220 mx.example.com Service ready",
		"250 mx.example.com",
		"250 OK (mail)",
		"250 OK (rcpt)",
		"354 Start mail input; end with <CRLF>.<CRLF>",
		"250 OK data done",
		"221 mx.example.com Service closing transmission channel",
	}
	if got := replyLines(out.String()); !slices.Equal(got, want) {
		t.Errorf("replies:\n got %q\nwant %q", got, want)
	}
	if len(reader.lines) != 1 {
		t.Errorf("commands after QUIT were consumed: %q left", reader.lines)
	}
	if string(store.deliveries[0].body) != "Subject: hi\r\n\r\n.dotted\r\n" {
		t.Errorf("body = %q", store.deliveries[0].body)
	}
}

func TestServeEndOfStream(t *testing.T) {
	s := NewSession(context.Background(), &scriptReader{lines: []string{"HELO x"}}, io.Discard, SessionOptions{
		Logger: discardLogger(),
	})
	if err := s.Serve(); err != nil {
		t.Errorf("Serve() = %v, want nil at end of stream", err)
	}
}

func TestServeReadFailure(t *testing.T) {
	boom := errors.New("connection reset")
	s := NewSession(context.Background(), &scriptReader{err: boom}, io.Discard, SessionOptions{
		Logger: discardLogger(),
	})
	if err := s.Serve(); !errors.Is(err, boom) {
		t.Errorf("Serve() = %v, want %v", err, boom)
	}
}

func TestServeMaxErrors(t *testing.T) {
	out := &bytes.Buffer{}
	s := NewSession(context.Background(), &scriptReader{lines: []string{"FOO", "BAR", "NOOP"}}, out, SessionOptions{
		Hostname:  "mx.example.com",
		Logger:    discardLogger(),
		MaxErrors: 2,
	})

	if err := s.Serve(); !errors.Is(err, ErrTooManyErrors) {
		t.Errorf("Serve() = %v, want ErrTooManyErrors", err)
	}
	lines := replyLines(out.String())
	if len(lines) != 3 || lines[2] != "421 mx.example.com Too many errors, closing connection" {
		t.Errorf("replies = %q", lines)
	}
}

func TestServeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := &bytes.Buffer{}
	s := NewSession(ctx, &scriptReader{lines: []string{"NOOP"}}, out, SessionOptions{
		Hostname: "mx.example.com",
		Logger:   discardLogger(),
	})

	if err := s.Serve(); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve() = %v, want ErrServerClosed", err)
	}
	if got := out.String(); got != "421 mx.example.com Service shutting down\r\n" {
		t.Errorf("reply = %q", got)
	}
}

// stream joins a fixed input with a reply buffer.
type stream struct {
	in  io.Reader
	out bytes.Buffer
}

func (s *stream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.out.Write(p) }

func TestServeMalformedLinesClose(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   error
	}{
		{"too long", strings.Repeat("A", 2000) + "\r\nNOOP\r\n", smtpio.ErrLineTooLong},
		{"null byte", "HELO a\x00b\r\nNOOP\r\n", smtpio.ErrNullByte},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := &stream{in: strings.NewReader(tt.input)}
			s := NewStreamSession(context.Background(), rw, smtpio.DefaultMaxLineLength, false, SessionOptions{
				Logger: discardLogger(),
			})

			if err := s.Serve(); !errors.Is(err, tt.err) {
				t.Errorf("Serve() = %v, want %v", err, tt.err)
			}
			if got := rw.out.String(); got != "500 Syntax error, command unrecognized\r\n" {
				t.Errorf("reply = %q", got)
			}
		})
	}
}

func TestServeStrictLineEndings(t *testing.T) {
	rw := &stream{in: strings.NewReader("NOOP\n")}
	s := NewStreamSession(context.Background(), rw, smtpio.DefaultMaxLineLength, true, SessionOptions{
		Logger: discardLogger(),
	})
	if err := s.Serve(); !errors.Is(err, smtpio.ErrBadLineEnding) {
		t.Errorf("Serve() = %v, want ErrBadLineEnding", err)
	}
}

func TestServeMalformedDataLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		err  error
	}{
		{"too long", strings.Repeat("A", 2000), smtpio.ErrLineTooLong},
		{"null byte", "a\x00b", smtpio.ErrNullByte},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "HELO client\r\nMAIL FROM:<a@example.com>\r\nRCPT TO:<b@example.com>\r\nDATA\r\n" +
				tt.line + "\r\n.\r\n"
			rw := &stream{in: strings.NewReader(input)}
			store := &recordingStore{}
			s := NewStreamSession(context.Background(), rw, smtpio.DefaultMaxLineLength, false, SessionOptions{
				Store:  store,
				Logger: discardLogger(),
			})

			err := s.Serve()
			if !errors.Is(err, tt.err) {
				t.Errorf("Serve() = %v, want %v", err, tt.err)
			}
			if errors.Is(err, ErrIncompleteData) {
				t.Errorf("Serve() = %v, should not report incomplete data", err)
			}

			lines := replyLines(rw.out.String())
			if len(lines) == 0 || lines[len(lines)-1] != "500 Syntax error, command unrecognized" {
				t.Errorf("replies = %q", lines)
			}
			if len(store.deliveries) != 0 {
				t.Errorf("deliveries = %d, want 0", len(store.deliveries))
			}
			if _, ok := s.Body(); ok {
				t.Error("body kept after malformed DATA line")
			}
		})
	}
}
