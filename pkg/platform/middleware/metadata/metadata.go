// Package metadata resolves the client address and user agent of a request
// and places them on the request context.
package metadata

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"bruteguard/pkg/requestcontext"
)

// MaxForwardedHeaderLength caps X-Forwarded-For and X-Real-IP values; longer
// values are ignored.
const MaxForwardedHeaderLength = 500

// Config holds configuration for the metadata middleware.
type Config struct {
	// TrustedProxies lists the peers allowed to set forwarding headers.
	// When empty, forwarding headers are never honoured.
	TrustedProxies []netip.Prefix
}

// ParseTrustedProxies parses a comma-separated list of CIDRs or bare addresses.
// A bare address is treated as a single-host prefix.
func ParseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			prefix, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", part, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", part, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Middleware handles client metadata extraction with configurable trusted proxies.
type Middleware struct {
	trusted []netip.Prefix
}

// NewMiddleware creates a new metadata middleware. A nil config trusts no proxies.
func NewMiddleware(cfg *Config) *Middleware {
	m := &Middleware{}
	if cfg != nil {
		m.trusted = cfg.TrustedProxies
	}
	return m
}

// Handler adds the client IP and User-Agent to the request context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), m.ClientIP(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the address the request originated from. Forwarding headers
// are consulted only when the socket peer is a trusted proxy: the first
// X-Forwarded-For entry wins, then X-Real-IP. Anything unparseable falls back
// to the socket peer, and an unknown peer yields "".
func (m *Middleware) ClientIP(r *http.Request) string {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		return ""
	}
	if !m.isTrusted(peer) {
		return peer.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, ok := headerAddr(first, len(xff)); ok {
			return addr.String()
		}
		return peer.String()
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, ok := headerAddr(xri, len(xri)); ok {
			return addr.String()
		}
	}
	return peer.String()
}

func (m *Middleware) isTrusted(addr netip.Addr) bool {
	for _, prefix := range m.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func headerAddr(value string, headerLen int) (netip.Addr, bool) {
	if headerLen > MaxForwardedHeaderLength {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// peerAddr parses RemoteAddr with or without a port.
func peerAddr(remoteAddr string) (netip.Addr, bool) {
	if remoteAddr == "" {
		return netip.Addr{}, false
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
