package main

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listenTCP resolves a "host:port" address with the standard
// library's resolver (host-name resolution to a listen address is
// ordinary code, unlike internal/dns's cache-backed resolver, which
// exists for outbound queries) and binds a non-blocking listening
// socket by hand so the resulting fd can be driven directly by the
// hub, rather than going through net.Listen's blocking runtime poller.
func listenTCP(address string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return -1, err
	}

	family := unix.AF_INET
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET {
		var addr4 [4]byte
		if ip4 := tcpAddr.IP.To4(); ip4 != nil {
			copy(addr4[:], ip4)
		}
		sa = &unix.SockaddrInet4{Port: tcpAddr.Port, Addr: addr4}
	} else {
		var addr16 [16]byte
		copy(addr16[:], tcpAddr.IP.To16())
		sa = &unix.SockaddrInet6{Port: tcpAddr.Port, Addr: addr16}
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", address, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", address, err)
	}
	return fd, nil
}
