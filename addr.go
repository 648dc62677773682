package luna

import (
	"fmt"
	"net"
	"net/netip"
)

// resolveAddrPort accepts both IP literals ("127.0.0.1:7800",
// "[::1]:7800") and hostnames ("localhost:7800"), matching the
// command surface's "HOST:PORT" shape from spec.md section 6.
func resolveAddrPort(addr string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap, nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %q: %w", addr, err)
	}
	ip, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("resolve %q: invalid address", addr)
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(udpAddr.Port)), nil
}
