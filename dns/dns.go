// Package dns looks up the name of a connecting client for session tracing.
package dns

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	ErrDNSNotFound = errors.New("dns: record not found")
	ErrDNSTimeout  = errors.New("dns: query timed out")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSRefused  = errors.New("dns: query refused")
)

// Result holds the records of one lookup.
type Result[T any] struct {
	Records []T
}

// Resolver is the subset of DNS the server needs.
type Resolver interface {
	// LookupAddr returns the PTR names of ip, each with a trailing dot.
	LookupAddr(ctx context.Context, ip net.IP) (Result[string], error)
	// LookupIP returns the A and AAAA records of host.
	LookupIP(ctx context.Context, host string) (Result[net.IP], error)
}

// IsNotFound reports whether err means the name has no such record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTemporary reports whether the lookup may succeed when retried.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrDNSTimeout) || errors.Is(err, ErrDNSServFail)
}

// VerifiedName returns the first PTR name of ip that resolves back to ip
// (forward-confirmed reverse DNS). The trailing dot is removed.
func VerifiedName(ctx context.Context, r Resolver, ip net.IP) (string, error) {
	ptr, err := r.LookupAddr(ctx, ip)
	if err != nil {
		return "", err
	}

	var lastErr error = ErrDNSNotFound
	for _, name := range ptr.Records {
		fwd, err := r.LookupIP(ctx, name)
		if err != nil {
			lastErr = err
			continue
		}
		for _, candidate := range fwd.Records {
			if candidate.Equal(ip) {
				return strings.TrimSuffix(name, "."), nil
			}
		}
	}
	return "", lastErr
}

// ensureFQDN ensures the name ends with a dot.
func ensureFQDN(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}
