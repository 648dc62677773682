//go:build linux

package echoreader

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/airtower-luna/luna-go/internal/krx"
	"github.com/airtower-luna/luna-go/internal/logsink"
	"github.com/airtower-luna/luna-go/internal/wire"
)

func mustAddrPort(t *testing.T, conn *net.UDPConn) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(conn.LocalAddr().String())
	require.NoError(t, err)
	return ap
}

func TestRunFiltersSourceAndTerminatesOnShutdown(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	other, err := net.ListenUDP("udp4", nil)
	require.NoError(t, err)
	defer other.Close()

	client, err := net.DialUDP("udp4", nil, server.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	fd, err := krx.ConnFd(client)
	require.NoError(t, err)
	require.NoError(t, krx.EnableRXTimestamps(fd))

	serverAddr := mustAddrPort(t, server)

	sink := logsink.NewChan(10)
	done := make(chan int, 1)
	go func() {
		n, err := Run(fd, 64, serverAddr, sink)
		require.NoError(t, err)
		done <- n
	}()

	clientAddr := client.LocalAddr().(*net.UDPAddr)

	// matching-source echo: should be accepted
	buf := make([]byte, 32)
	wire.Encode(buf, 7, time.Now(), 0)
	_, err = server.WriteToUDP(buf, clientAddr)
	require.NoError(t, err)

	rec := <-sink.Records()
	require.Equal(t, uint32(7), rec.Sequence)

	// wrong-source packet: should be silently discarded
	wire.Encode(buf, 9, time.Now(), 0)
	_, err = other.WriteToUDP(buf, clientAddr)
	require.NoError(t, err)

	// give the reader a chance to drain and discard the wrong-source
	// packet before the read-side shutdown below.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, unix.Shutdown(fd, unix.SHUT_RD))

	select {
	case n := <-done:
		require.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("echo reader did not terminate after read shutdown")
	}
}
