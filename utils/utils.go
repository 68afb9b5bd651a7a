// Package utils holds small helpers shared by the engine and its collaborators.
package utils

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oklog/ulid/v2"
)

var errNilAddr = errors.New("address is nil")

// GetIPFromAddr extracts the IP of a network address. Addresses that are not
// IP-based (net.Pipe, unix sockets) return an error.
func GetIPFromAddr(addr net.Addr) (net.IP, error) {
	if addr == nil {
		return nil, errNilAddr
	}

	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP, nil
	case *net.UDPAddr:
		return a.IP, nil
	case *net.IPAddr:
		return a.IP, nil
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("unable to extract IP from address: %v", addr)
	}
	return ip, nil
}

// GenerateID returns a new ULID. IDs sort by creation time, so they double as
// storage keys.
func GenerateID() string {
	return ulid.Make().String()
}

// SplitAddress splits a mailbox into local part and domain at the last '@'.
// A bare local part yields an empty domain.
func SplitAddress(address string) (local, domain string) {
	i := strings.LastIndexByte(address, '@')
	if i < 0 {
		return address, ""
	}
	return address[:i], address[i+1:]
}

// NormalizeAddress trims surrounding whitespace and lowercases the domain.
// The local part is left untouched since it may be case-sensitive.
func NormalizeAddress(address string) string {
	local, domain := SplitAddress(strings.TrimSpace(address))
	if domain == "" {
		return local
	}
	return local + "@" + strings.ToLower(domain)
}
