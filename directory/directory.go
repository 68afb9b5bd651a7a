// Package directory provides smtpd.UserDirectory implementations: fixed
// sets, a users file, a Postgres table, a public-suffix domain policy and a
// TTL cache to put in front of any of them.
package directory

import (
	"context"
	"strings"

	"github.com/synqronlabs/smtpd"
	"github.com/synqronlabs/smtpd/utils"
)

// set is an address set shared by Static and File. Entries holding an '@'
// match that exact mailbox; bare entries match the local part under any
// domain (and the bare local part itself).
type set struct {
	addresses map[string]struct{}
	locals    map[string]struct{}
}

func newSet() set {
	return set{
		addresses: make(map[string]struct{}),
		locals:    make(map[string]struct{}),
	}
}

func (s set) add(entry string) {
	entry = utils.NormalizeAddress(entry)
	if entry == "" {
		return
	}
	if strings.Contains(entry, "@") {
		s.addresses[entry] = struct{}{}
		return
	}
	s.locals[entry] = struct{}{}
}

func (s set) contains(address string) bool {
	address = utils.NormalizeAddress(address)
	if address == "" {
		return false
	}
	if _, ok := s.addresses[address]; ok {
		return true
	}
	local, _ := utils.SplitAddress(address)
	_, ok := s.locals[local]
	return ok
}

func (s set) len() int {
	return len(s.addresses) + len(s.locals)
}

// Static is a fixed, in-memory set of valid addresses.
type Static struct {
	users set
}

var _ smtpd.UserDirectory = (*Static)(nil)

// NewStatic returns a directory accepting the given entries. See File for
// the entry syntax.
func NewStatic(entries ...string) *Static {
	users := newSet()
	for _, e := range entries {
		users.add(e)
	}
	return &Static{users: users}
}

// IsValidUser reports whether address is one of the configured entries.
func (s *Static) IsValidUser(_ context.Context, address string) bool {
	return s.users.contains(address)
}

// Len returns the number of entries.
func (s *Static) Len() int {
	return s.users.len()
}
