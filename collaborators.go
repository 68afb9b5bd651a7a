package smtpd

import "context"

// LineReader yields one protocol line per call, without its terminator.
// It returns io.EOF once the stream is exhausted.
// *github.com/synqronlabs/smtpd/io.LineReader implements it.
type LineReader interface {
	ReadLine() ([]byte, error)
}

// UserDirectory decides whether an address names a local mailbox.
// It is consulted by RCPT and VRFY.
type UserDirectory interface {
	IsValidUser(ctx context.Context, address string) bool
}

// MailStore receives a completed message. body is the dot-unstuffed DATA
// content with CRLF line endings; recipients are in RCPT order, duplicates
// included. Implementations must not retain body or recipients after
// returning.
type MailStore interface {
	Deliver(ctx context.Context, body []byte, recipients []string) error
}

// UserDirectoryFunc adapts a function to UserDirectory.
type UserDirectoryFunc func(ctx context.Context, address string) bool

func (f UserDirectoryFunc) IsValidUser(ctx context.Context, address string) bool {
	return f(ctx, address)
}

// MailStoreFunc adapts a function to MailStore.
type MailStoreFunc func(ctx context.Context, body []byte, recipients []string) error

func (f MailStoreFunc) Deliver(ctx context.Context, body []byte, recipients []string) error {
	return f(ctx, body, recipients)
}

// acceptAll is used when no directory is configured.
var acceptAll = UserDirectoryFunc(func(context.Context, string) bool { return true })

// discard is used when no store is configured.
var discard = MailStoreFunc(func(context.Context, []byte, []string) error { return nil })
