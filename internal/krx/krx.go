// Package krx reads UDP datagrams together with the kernel's receive
// timestamp, the same SO_TIMESTAMPING/recvmsg ancillary-data technique
// facebook-time's timestamp package uses for PTP event packets. LUNA
// only needs software RX timestamps (no hardware timestamping, no TX
// timestamp queue), so this package is a narrower cut of that idiom.
package krx

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// ConnFd returns the raw file descriptor backing conn. The descriptor
// is used directly with blocking syscalls (EnableRXTimestamps,
// ReadFrom), bypassing the runtime netpoller the way the teacher
// package does for the same reason: recvmsg is needed for the
// ancillary timestamp data that conn.ReadFrom cannot expose.
func ConnFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	cerr := sc.Control(func(f uintptr) {
		fd = int(f)
	})
	if cerr != nil {
		return -1, cerr
	}
	// the runtime opens sockets non-blocking; switch to blocking mode so
	// a raw recvmsg waits for data instead of failing with EAGAIN.
	if err := unix.SetNonblock(fd, false); err != nil {
		return -1, err
	}
	return fd, nil
}

// SendTo sends buf as a single datagram from fd to dst, for the
// server's selective-echo path where the socket is not connected to
// any single peer.
func SendTo(fd int, buf []byte, dst netip.AddrPort) error {
	return unix.Sendto(fd, buf, 0, addrToSockaddr(dst))
}

// addrToSockaddr mirrors facebook-time's timestamp.AddrToSockaddr.
func addrToSockaddr(ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr().Unmap()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
}
