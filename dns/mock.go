package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver is a Resolver used for testing.
// PTR is keyed by IP string, A and AAAA by FQDN (with trailing dot).
type MockResolver struct {
	PTR  map[string][]string
	A    map[string][]string
	AAAA map[string][]string

	// Fail contains requests that return ErrDNSServFail.
	// Format: "type name", e.g. "ptr 192.0.2.1" or "a mail.example.com."
	Fail []string
}

var _ Resolver = MockResolver{}

// LookupAddr performs a reverse DNS lookup.
func (r MockResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if err := ctx.Err(); err != nil {
		return Result[string]{}, err
	}
	key := ip.String()
	if slices.Contains(r.Fail, "ptr "+key) {
		return Result[string]{}, ErrDNSServFail
	}

	records := r.PTR[key]
	if len(records) == 0 {
		return Result[string]{}, ErrDNSNotFound
	}
	return Result[string]{Records: records}, nil
}

// LookupIP returns A and AAAA records for the given host.
func (r MockResolver) LookupIP(ctx context.Context, host string) (Result[net.IP], error) {
	if err := ctx.Err(); err != nil {
		return Result[net.IP]{}, err
	}
	fqdn := ensureFQDN(host)
	if slices.Contains(r.Fail, "a "+fqdn) {
		return Result[net.IP]{}, ErrDNSServFail
	}

	var ips []net.IP
	for _, ip := range r.A[fqdn] {
		ips = append(ips, net.ParseIP(ip))
	}
	for _, ip := range r.AAAA[fqdn] {
		ips = append(ips, net.ParseIP(ip))
	}

	if len(ips) == 0 {
		return Result[net.IP]{}, ErrDNSNotFound
	}
	return Result[net.IP]{Records: ips}, nil
}
