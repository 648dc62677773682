//go:build darwin

package krx

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const controlSizeBytes = 128

var errNoTimestamp = errors.New("no kernel receive timestamp in control message")

var cmsgHeaderOffset = binary.Size(unix.Cmsghdr{})

// EnableRXTimestamps turns on kernel receive timestamping for fd.
// Darwin only supports the coarser SO_TIMESTAMP (microsecond
// resolution struct timeval), unlike Linux's SO_TIMESTAMPING.
func EnableRXTimestamps(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1)
}

// ReadFrom reads one datagram from fd into buf, returning its length,
// peer address and kernel receive timestamp.
func ReadFrom(fd int, buf []byte) (n int, src netip.AddrPort, rx time.Time, err error) {
	oob := make([]byte, controlSizeBytes)
	n, oobn, _, sa, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return 0, netip.AddrPort{}, time.Time{}, err
	}
	rx, _ = cmsgTimestamp(oob[:oobn])
	return n, sockaddrToAddrPort(sa), rx, nil
}

func cmsgTimestamp(b []byte) (time.Time, error) {
	mlen := 0
	for i := 0; i < len(b); i += unix.CmsgSpace(mlen - unix.SizeofCmsghdr) {
		h := (*unix.Cmsghdr)(unsafe.Pointer(&b[i])) //#nosec G103
		mlen = int(h.Len)                           //#nosec G115
		if mlen == 0 {
			break
		}
		if h.Level == unix.SOL_SOCKET && int(h.Type) == unix.SO_TIMESTAMP {
			data := b[i+cmsgHeaderOffset : i+mlen]
			if len(data) < int(unsafe.Sizeof(unix.Timeval{})) {
				return time.Time{}, errNoTimestamp
			}
			tv := (*unix.Timeval)(unsafe.Pointer(&data[0])) //#nosec G103
			ts := time.Unix(tv.Unix())
			if ts.UnixNano() == 0 {
				return time.Time{}, errNoTimestamp
			}
			return ts, nil
		}
	}
	return time.Time{}, errNoTimestamp
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
