// Package netdial parses the dial-string grammar for addressing a
// hub socket: "host:port", "[ipv6]:port", a "/unix/path", or a bare
// integer adopting an inherited fd. It mirrors the source's
// xaddr_init dispatch (inspect the string shape, pick a sockaddr
// family) without reproducing its getaddrinfo-backed name resolution
// — host names are left to the caller to resolve via internal/dns.
package netdial

import (
	"strconv"
	"strings"

	"github.com/kalamay/crux"
)

// Parse classifies a dial string into the (network, address) pair the
// standard library's net package expects, or reports that s names an
// already-open, inherited file descriptor.
//
//   - "/path", "./path" or "../path" -> ("unix", the path unchanged)
//   - "[::1]:8080"         -> ("tcp", "[::1]:8080")
//   - "host:port"          -> ("tcp", "host:port")
//   - "123"                -> ("fd", "123"), an inherited descriptor
func Parse(s string) (network, address string, err error) {
	if s == "" {
		return "", "", crux.NewAddrError("netdial.parse", "empty dial string")
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") {
		return "unix", s, nil
	}
	if _, convErr := strconv.Atoi(s); convErr == nil {
		return "fd", s, nil
	}
	if !strings.Contains(s, ":") {
		return "", "", crux.NewAddrError("netdial.parse", "missing port in address: "+s)
	}
	return "tcp", s, nil
}

// ParseFD parses a bare-integer dial string into an inherited file
// descriptor. Callers should check network == "fd" (via Parse) before
// calling this.
func ParseFD(s string) (int, error) {
	fd, err := strconv.Atoi(s)
	if err != nil {
		return 0, crux.NewAddrError("netdial.parsefd", "not a file descriptor: "+s)
	}
	if fd < 0 {
		return 0, crux.NewAddrError("netdial.parsefd", "negative file descriptor: "+s)
	}
	return fd, nil
}

// IsInherited reports whether s names an inherited fd rather than an
// address to dial or bind.
func IsInherited(s string) bool {
	network, _, err := Parse(s)
	return err == nil && network == "fd"
}
