package metrics

import (
	"context"
	"time"
)

// Directory matches smtpd.UserDirectory.
type Directory interface {
	IsValidUser(ctx context.Context, address string) bool
}

// Store matches smtpd.MailStore.
type Store interface {
	Deliver(ctx context.Context, body []byte, recipients []string) error
}

// InstrumentDirectory times every lookup made through d. A nil m returns d
// unchanged.
func (m *Metrics) InstrumentDirectory(d Directory) Directory {
	if m == nil {
		return d
	}
	return &instrumentedDirectory{next: d, m: m}
}

// InstrumentStore times every delivery made through s. A nil m returns s
// unchanged.
func (m *Metrics) InstrumentStore(s Store) Store {
	if m == nil {
		return s
	}
	return &instrumentedStore{next: s, m: m}
}

type instrumentedDirectory struct {
	next Directory
	m    *Metrics
}

func (d *instrumentedDirectory) IsValidUser(ctx context.Context, address string) bool {
	start := time.Now()
	ok := d.next.IsValidUser(ctx, address)

	result := "unknown"
	if ok {
		result = "valid"
	}
	d.m.LookupDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return ok
}

type instrumentedStore struct {
	next Store
	m    *Metrics
}

func (s *instrumentedStore) Deliver(ctx context.Context, body []byte, recipients []string) error {
	start := time.Now()
	err := s.next.Deliver(ctx, body, recipients)

	result := "ok"
	if err != nil {
		result = "error"
	}
	s.m.DeliveryDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return err
}
