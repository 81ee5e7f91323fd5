// Package privacy reduces client addresses to network prefixes before they
// reach logs.
package privacy

import "net/netip"

const (
	ipv4PrefixBits = 24
	ipv6PrefixBits = 48
)

// AnonymizeIP masks an address to its /24 (IPv4) or /48 (IPv6) network and
// returns the network address. Empty input and the literal "unknown" yield
// "unknown"; anything unparseable yields "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap().WithZone("")

	bits := ipv6PrefixBits
	if addr.Is4() {
		bits = ipv4PrefixBits
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}
