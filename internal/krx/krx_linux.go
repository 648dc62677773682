//go:build linux

package krx

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// controlSizeBytes matches facebook-time's timestamp.ControlSizeBytes:
// generously oversized so a single recvmsg never leaves a timestamp
// cmsg behind in the kernel's queue.
const controlSizeBytes = 128

var errNoTimestamp = errors.New("no kernel receive timestamp in control message")

var cmsgHeaderOffset = binary.Size(unix.Cmsghdr{})

// timestampSockopt is SO_TIMESTAMPING_NEW on kernels that support it,
// falling back to the legacy SO_TIMESTAMPING option otherwise.
var timestampSockopt = unix.SO_TIMESTAMPING_NEW

func init() {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil && uname.Release[0] < '5' {
		timestampSockopt = unix.SO_TIMESTAMPING
	}
}

// EnableRXTimestamps turns on kernel software receive timestamping for
// fd. Packets read afterwards via ReadFrom carry a kernel RX time.
func EnableRXTimestamps(fd int) error {
	flags := unix.SOF_TIMESTAMPING_RX_SOFTWARE | unix.SOF_TIMESTAMPING_SOFTWARE
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, timestampSockopt, flags)
}

// ReadFrom reads one datagram from fd into buf, returning its length,
// peer address and kernel receive timestamp. A zero-length read (a
// shutdown(SHUT_RD) signal) is returned with n == 0 and err == nil.
func ReadFrom(fd int, buf []byte) (n int, src netip.AddrPort, rx time.Time, err error) {
	oob := make([]byte, controlSizeBytes)
	n, oobn, _, sa, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return 0, netip.AddrPort{}, time.Time{}, err
	}
	rx, _ = cmsgTimestamp(oob[:oobn])
	return n, sockaddrToAddrPort(sa), rx, nil
}

// cmsgTimestamp is a cut-down version of facebook-time's
// socketControlMessageTimestamp that only looks for the SW/HW RX
// timestamp message (LUNA has no use for PTP's TX timestamp queue).
func cmsgTimestamp(b []byte) (time.Time, error) {
	mlen := 0
	for i := 0; i < len(b); i += unix.CmsgSpace(mlen - unix.SizeofCmsghdr) {
		h := (*unix.Cmsghdr)(unsafe.Pointer(&b[i])) //#nosec G103
		mlen = int(h.Len)                           //#nosec G115
		if mlen == 0 {
			break
		}
		if h.Level == unix.SOL_SOCKET &&
			(int(h.Type) == unix.SO_TIMESTAMPING_NEW || int(h.Type) == unix.SO_TIMESTAMPING) {
			return scmDataToTime(b[i+cmsgHeaderOffset : i+mlen])
		}
	}
	return time.Time{}, errNoTimestamp
}

// scmDataToTime reads the first (software or legacy) __kernel_timespec
// pair out of the control message payload.
func scmDataToTime(data []byte) (time.Time, error) {
	if len(data) < 16 {
		return time.Time{}, errNoTimestamp
	}
	sec := *(*int64)(unsafe.Pointer(&data[0]))  //#nosec G103
	nsec := *(*int64)(unsafe.Pointer(&data[8])) //#nosec G103
	if sec == 0 && nsec == 0 {
		return time.Time{}, errNoTimestamp
	}
	return time.Unix(sec, nsec), nil
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
