package directory

import (
	"context"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/synqronlabs/smtpd"
	"github.com/synqronlabs/smtpd/utils"
)

// DomainPolicy restricts another directory to the organizational domains
// this server is responsible for. A recipient at mail.example.co.uk belongs
// to example.co.uk. Addresses without a domain go straight to the inner
// directory.
type DomainPolicy struct {
	next    smtpd.UserDirectory
	domains map[string]struct{}
}

// NewDomainPolicy wraps next, accepting only addresses whose organizational
// domain is one of domains.
func NewDomainPolicy(next smtpd.UserDirectory, domains ...string) *DomainPolicy {
	p := &DomainPolicy{next: next, domains: make(map[string]struct{})}
	for _, d := range domains {
		d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
		if org, err := OrganizationalDomain(d); err == nil {
			d = org
		}
		if d != "" {
			p.domains[d] = struct{}{}
		}
	}
	return p
}

// IsValidUser implements smtpd.UserDirectory.
func (p *DomainPolicy) IsValidUser(ctx context.Context, address string) bool {
	_, domain := utils.SplitAddress(utils.NormalizeAddress(address))
	if domain != "" && !p.IsLocalDomain(domain) {
		return false
	}
	return p.next.IsValidUser(ctx, address)
}

// IsLocalDomain reports whether domain belongs to a configured
// organizational domain. Names without one, such as "localhost", must
// match a configured domain exactly.
func (p *DomainPolicy) IsLocalDomain(domain string) bool {
	org, err := OrganizationalDomain(domain)
	if err != nil {
		org = strings.TrimSuffix(strings.ToLower(domain), ".")
	}
	_, ok := p.domains[org]
	return ok
}

// OrganizationalDomain returns the registrable domain (public suffix plus
// one label) of domain, lowercased and without a trailing dot.
func OrganizationalDomain(domain string) (string, error) {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	return publicsuffix.EffectiveTLDPlusOne(domain)
}
