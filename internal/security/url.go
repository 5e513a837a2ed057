// Package security guards the outbound requests block event scripts make.
package security

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// TestBypassSSRF turns every check off. Tests that call httptest servers
// on loopback set it.
var TestBypassSSRF bool

// ErrBlockedAddress is wrapped by every rejection of an internal target.
var ErrBlockedAddress = errors.New("address not allowed")

// blockedHosts are names that always point inside the network.
var blockedHosts = map[string]string{
	"localhost":                "localhost",
	"localhost.localdomain":    "localhost",
	"metadata.google.internal": "cloud metadata",
}

// sharedAddressSpace is the carrier-grade NAT range, which IsPrivate does
// not cover.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// classify names the kind of internal address addr is, or returns "".
func classify(addr netip.Addr) string {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return "loopback"
	case addr.IsPrivate(), sharedAddressSpace.Contains(addr):
		return "private network"
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local"
	case addr.IsUnspecified():
		return "unspecified"
	case addr.IsMulticast():
		return "multicast"
	}
	return ""
}

func blocked(kind string) error {
	return fmt.Errorf("requests to %s addresses are not allowed: %w", kind, ErrBlockedAddress)
}

// ValidateHTTPURL rejects URLs a page visitor's script must not reach:
// non-http schemes, localhost names, and literal loopback, private,
// link-local, unspecified or multicast addresses. Host names are checked
// again after resolution by DialControl.
func ValidateHTTPURL(rawURL string) error {
	if TestBypassSSRF {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}

	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}
	if kind, ok := blockedHosts[host]; ok {
		return fmt.Errorf("requests to %s are not allowed: %w", kind, ErrBlockedAddress)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if kind := classify(addr); kind != "" {
		return blocked(kind)
	}
	return nil
}

// DialControl is a net.Dialer Control hook that refuses connections to
// internal addresses, catching host names that resolve inside the network.
func DialControl(network, address string, _ syscall.RawConn) error {
	if TestBypassSSRF {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	if kind := classify(addr); kind != "" {
		return blocked(kind)
	}
	return nil
}
