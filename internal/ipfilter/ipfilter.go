// Package ipfilter provides IP-based access control for network services
package ipfilter

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks if IP addresses are allowed
type Filter struct {
	allowed []netip.Prefix
	// trustForwarded honors X-Forwarded-For and X-Real-IP. Only enable it
	// behind a reverse proxy that overwrites these headers.
	trustForwarded bool
	logger         *slog.Logger
}

// Option configures a Filter
type Option func(*Filter)

// TrustForwardedHeaders makes the filter read the client IP from proxy headers
func TrustForwardedHeaders() Option {
	return func(f *Filter) { f.trustForwarded = true }
}

// ParsePrefix parses a single IP or CIDR. A bare IP becomes a /32 or /128.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %w", s, err)
		}
		return p.Masked(), nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid IP %q: %w", s, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Validate reports the first malformed entry of an allow-list
func Validate(allowedIPs []string) error {
	for _, s := range allowedIPs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		if _, err := ParsePrefix(s); err != nil {
			return err
		}
	}
	return nil
}

// New creates a new IP filter from a list of IPs/CIDRs.
// Empty list means allow all. Malformed entries are logged and skipped.
func New(allowedIPs []string, logger *slog.Logger, opts ...Option) *Filter {
	f := &Filter{logger: logger}
	for _, opt := range opts {
		opt(f)
	}

	for _, s := range allowedIPs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		p, err := ParsePrefix(s)
		if err != nil {
			logger.Warn("skipping allowed_ips entry", "entry", s, "error", err)
			continue
		}
		f.allowed = append(f.allowed, p)
	}

	return f
}

// Enabled returns true if IP filtering is active
func (f *Filter) Enabled() bool {
	return len(f.allowed) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.allowed)
}

// IsAllowed checks if the address is allowed.
// Returns true if filter is empty (allow all) or the address is in the list.
func (f *Filter) IsAllowed(addr netip.Addr) bool {
	if len(f.allowed) == 0 {
		return true
	}
	if !addr.IsValid() {
		return false
	}

	addr = addr.Unmap()
	for _, p := range f.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsAllowedString parses and checks if the IP string is allowed
func (f *Filter) IsAllowedString(s string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return f.IsAllowed(addr)
}

// ClientAddr extracts the client IP from an HTTP request
func (f *Filter) ClientAddr(r *http.Request) netip.Addr {
	if f.trustForwarded {
		// First entry of X-Forwarded-For is the original client
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
				return addr
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}

// HTTPMiddleware returns an HTTP middleware that filters requests by IP
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If no IPs configured, allow all
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr := f.ClientAddr(r)
		if !addr.IsValid() {
			f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if !f.IsAllowed(addr) {
			f.logger.Warn("access denied by IP filter", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
