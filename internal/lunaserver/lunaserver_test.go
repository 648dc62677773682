//go:build linux

package lunaserver

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/airtower-luna/luna-go/internal/logsink"
	"github.com/airtower-luna/luna-go/internal/wire"
)

func TestBindReportsEffectiveAddress(t *testing.T) {
	srv := New(netip.MustParseAddrPort("127.0.0.1:0"), 1500, nil, nil)
	handle, err := srv.Bind()
	require.NoError(t, err)
	defer handle.Close()

	require.True(t, srv.Bound().IsValid())
	require.NotZero(t, srv.Bound().Port())
	require.Equal(t, "127.0.0.1", srv.Bound().Addr().String())
}

func TestRunEchoesAndPublishesThenStopsOnClose(t *testing.T) {
	sink := logsink.NewChan(10)
	srv := New(netip.MustParseAddrPort("127.0.0.1:0"), 64, sink, nil)
	handle, err := srv.Bind()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := srv.Run()
		done <- err
	}()

	client, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(srv.Bound()))
	require.NoError(t, err)
	defer client.Close()

	buf := make([]byte, 32)
	wire.Encode(buf, 5, time.Now(), wire.EchoFlag)
	_, err = client.Write(buf)
	require.NoError(t, err)

	rec := <-sink.Records()
	require.Equal(t, uint32(5), rec.Sequence)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	echoBuf := make([]byte, 64)
	n, err := client.Read(echoBuf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, wire.MinSize)

	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close()) // idempotent

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after CloseHandle.Close")
	}
}
