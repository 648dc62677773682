//go:build linux

package sender

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/airtower-luna/luna-go/internal/logsink"
	"github.com/airtower-luna/luna-go/internal/wire"
)

func TestAddTimespecNormalizesOverflowAndUnderflow(t *testing.T) {
	base := unix.Timespec{Sec: 1, Nsec: 900_000_000}
	got := addTimespec(base, wire.TimeSpec{Sec: 0, Nsec: 200_000_000})
	require.Equal(t, int64(2), got.Sec)
	require.Equal(t, int64(100_000_000), got.Nsec)

	got = addTimespec(base, wire.TimeSpec{Sec: 0, Nsec: -950_000_000})
	require.Equal(t, int64(0), got.Sec)
	require.Equal(t, int64(950_000_000), got.Nsec)
}

// echoServer is a minimal stand-in for the real LUNA server: it
// echoes any datagram with the ECHO_FLAG bit set verbatim back to its
// source, until closed.
func echoServer(t *testing.T, stop <-chan struct{}) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	go func() {
		buf := make([]byte, 1500)
		for {
			conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			n, addr, err := conn.ReadFromUDP(buf)
			select {
			case <-stop:
				conn.Close()
				return
			default:
			}
			if err != nil {
				continue
			}
			if n >= wire.MinSize && buf[20]&wire.EchoFlag != 0 {
				_, _ = conn.WriteToUDP(buf[:n], addr)
			}
		}
	}()
	return conn
}

func TestRunEchoRoundTrip(t *testing.T) {
	stop := make(chan struct{})
	server := echoServer(t, stop)
	defer close(stop)
	defer server.Close()

	serverAddr, err := netip.ParseAddrPort(server.LocalAddr().String())
	require.NoError(t, err)

	packets := make(chan wire.PacketData)
	go func() {
		defer close(packets)
		for i := 0; i < 3; i++ {
			packets <- wire.PacketData{Delay: wire.TimeSpec{Nsec: 1_000_000}, Size: wire.MinSize}
		}
	}()

	sink := logsink.NewChan(10)
	result := make(chan Result, 1)
	errc := make(chan error, 1)
	go func() {
		r, err := Run(context.Background(), Config{
			Server:     serverAddr,
			BufferSize: wire.MinSize,
			Echo:       true,
			Packets:    packets,
			EchoSink:   sink,
			EchoWait:   100 * time.Millisecond,
		})
		result <- r
		errc <- err
	}()

	seqs := make(map[uint32]bool)
	for i := 0; i < 3; i++ {
		select {
		case rec := <-sink.Records():
			seqs[rec.Sequence] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for echo")
		}
	}
	require.Len(t, seqs, 3)

	require.NoError(t, <-errc)
	r := <-result
	require.Equal(t, 3, r.EchoCount)
}
