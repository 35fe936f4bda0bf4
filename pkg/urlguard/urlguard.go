// Package urlguard implements the SSRF admission policy for outbound
// fetches. Every candidate URL passes an ordered series of checks: scheme,
// explicit port, DNS resolution, resolved-address range filtering, and the
// host allowlist. The guard is consulted before the first request and again
// on every redirect hop.
package urlguard

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/iron-manus/jarvis/pkg/config"
)

// Reject reasons. These are stable strings: they appear in fetch results
// and logs, and tests match on them.
const (
	ReasonInvalidURL       = "invalid_url"
	ReasonSchemeNotAllowed = "scheme_not_allowed"
	ReasonPortNotAllowed   = "port_not_allowed"
	ReasonHostUnresolvable = "host_unresolvable"
	ReasonPrivateAddress   = "private_address"
	ReasonHostNotAllowed   = "host_not_allowed"
)

// BlockedError reports a rejected URL together with the stable reason.
type BlockedError struct {
	Host   string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("request blocked (%s): %s", e.Reason, e.Host)
}

// Resolver resolves hostnames. *net.Resolver satisfies it; tests inject a
// fake so no real DNS traffic occurs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard applies the admission policy. Construct with New; the zero value
// admits nothing useful.
type Guard struct {
	enabled       bool
	production    bool
	allowedHosts  map[string]struct{}
	approvedPorts map[string]struct{}
	resolver      Resolver
}

// Option customizes a Guard.
type Option func(*Guard)

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(g *Guard) {
		g.resolver = r
	}
}

// WithApprovedPorts admits explicit ports beyond the default 80/443.
func WithApprovedPorts(ports ...string) Option {
	return func(g *Guard) {
		for _, p := range ports {
			g.approvedPorts[p] = struct{}{}
		}
	}
}

// New builds a Guard from the security section. production tightens the
// empty-allowlist rule: with no allowlist configured, production denies
// every host.
func New(security config.SecurityConfig, production bool, opts ...Option) *Guard {
	g := &Guard{
		enabled:       security.SSRFProtection,
		production:    production,
		allowedHosts:  make(map[string]struct{}, len(security.AllowedHosts)),
		approvedPorts: map[string]struct{}{"80": {}, "443": {}},
		resolver:      net.DefaultResolver,
	}
	for _, host := range security.AllowedHosts {
		g.allowedHosts[strings.ToLower(host)] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether the guard is active.
func (g *Guard) Enabled() bool {
	return g.enabled
}

// Check admits or rejects a raw URL. A nil return admits the URL; any
// rejection is a *BlockedError carrying one of the Reason constants.
// Checks run in a fixed order and the first failure wins.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	if !g.enabled {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return &BlockedError{Host: rawURL, Reason: ReasonInvalidURL}
	}
	host := strings.ToLower(u.Hostname())

	if u.Scheme != "http" && u.Scheme != "https" {
		return &BlockedError{Host: host, Reason: ReasonSchemeNotAllowed}
	}

	if port := u.Port(); port != "" {
		if _, ok := g.approvedPorts[port]; !ok {
			return &BlockedError{Host: host, Reason: ReasonPortNotAllowed}
		}
	}

	addrs, err := g.resolve(ctx, host)
	if err != nil || len(addrs) == 0 {
		return &BlockedError{Host: host, Reason: ReasonHostUnresolvable}
	}
	for _, addr := range addrs {
		if isPrivateAddress(addr.IP) {
			return &BlockedError{Host: host, Reason: ReasonPrivateAddress}
		}
	}

	if len(g.allowedHosts) == 0 {
		if g.production {
			return &BlockedError{Host: host, Reason: ReasonHostNotAllowed}
		}
		return nil
	}
	if _, ok := g.allowedHosts[host]; !ok {
		return &BlockedError{Host: host, Reason: ReasonHostNotAllowed}
	}
	return nil
}

// resolve returns the addresses for host, short-circuiting IP literals so
// they are judged directly rather than through DNS.
func (g *Guard) resolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IPAddr{{IP: ip}}, nil
	}
	return g.resolver.LookupIPAddr(ctx, host)
}

// isPrivateAddress reports whether ip falls in a blocked range:
// IPv4 10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16, 127.0.0.0/8,
// 169.254.0.0/16; IPv6 ::1/128, fc00::/7, fe80::/10. Unspecified
// addresses (0.0.0.0, ::) are treated the same way.
func isPrivateAddress(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
