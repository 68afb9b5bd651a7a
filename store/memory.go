package store

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/synqronlabs/smtpd"
)

// Memory keeps delivered messages in memory. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	messages []Record
}

var _ smtpd.MailStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Deliver implements smtpd.MailStore.
func (m *Memory) Deliver(_ context.Context, body []byte, recipients []string) error {
	rec := NewRecord(body, recipients)
	m.mu.Lock()
	m.messages = append(m.messages, *rec)
	m.mu.Unlock()
	return nil
}

// Messages returns a snapshot of the delivered messages in delivery order.
func (m *Memory) Messages() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages)
}

// Len returns the number of delivered messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Multi delivers every message to all of its stores, in order. Every store
// is tried; the errors of those that failed are joined.
type Multi []smtpd.MailStore

// Deliver implements smtpd.MailStore.
func (m Multi) Deliver(ctx context.Context, body []byte, recipients []string) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, body, recipients); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
