//go:build !linux && !darwin

package krx

import (
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

// EnableRXTimestamps is a no-op on platforms without kernel receive
// timestamping support; ReadFrom falls back to stamping packets with
// time.Now() on this platform.
func EnableRXTimestamps(fd int) error {
	return nil
}

// ReadFrom reads one datagram from fd into buf using a plain recvfrom,
// stamping the receive time with time.Now() instead of a kernel
// timestamp.
func ReadFrom(fd int, buf []byte) (n int, src netip.AddrPort, rx time.Time, err error) {
	nn, sa, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, netip.AddrPort{}, time.Time{}, err
	}
	return nn, sockaddrToAddrPort(sa), time.Now(), nil
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	}
	return netip.AddrPort{}
}
