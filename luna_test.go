//go:build linux

package luna

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/airtower-luna/luna-go/internal/wire"
)

func TestEchoRoundTripIPv6Loopback(t *testing.T) {
	srv, err := NewServer("[::1]:0", 32)
	require.NoError(t, err)
	require.NoError(t, srv.Bind())
	require.NoError(t, srv.Run())

	client, err := NewClient(srv.Bound().String(), 32, WithEcho(), WithEchoGrace(100*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, client.Start())

	const count = 200
	const delayNanos = 30_000

	serverRecords := make([]wire.ReceivedPacket, 0, count)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		for rec := range srv.Records() {
			serverRecords = append(serverRecords, rec)
		}
	}()

	clientRecords := make([]wire.ReceivedPacket, 0, count)
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		for rec := range client.Echoes() {
			clientRecords = append(clientRecords, rec)
		}
	}()

	for i := 0; i < count; i++ {
		require.NoError(t, client.Put(wire.TimeSpec{Nsec: delayNanos}, wire.MinSize))
	}
	require.NoError(t, client.Close())
	require.NoError(t, client.Join())
	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Join())

	<-clientDone
	<-serverDone

	require.Len(t, serverRecords, count)
	require.Len(t, clientRecords, count)
	for i, rec := range serverRecords {
		require.Equal(t, "::1", rec.Source.Addr().String())
		require.Equal(t, uint32(i), rec.Sequence)
		require.Equal(t, wire.MinSize, rec.Size)
	}
	for i, rec := range clientRecords {
		require.Equal(t, uint32(i), rec.Sequence)
		require.Equal(t, wire.MinSize, rec.Size)
	}
}

func TestNonEchoTrafficProducesNoEchoRecords(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", 32)
	require.NoError(t, err)
	require.NoError(t, srv.Bind())
	require.NoError(t, srv.Run())
	defer func() {
		require.NoError(t, srv.Stop())
		require.NoError(t, srv.Join())
	}()

	client, err := NewClient(srv.Bound().String(), 32)
	require.NoError(t, err)
	require.NoError(t, client.Start())

	const count = 20
	for i := 0; i < count; i++ {
		require.NoError(t, client.Put(wire.TimeSpec{Nsec: 1_000_000}, wire.MinSize))
	}
	require.NoError(t, client.Close())
	require.NoError(t, client.Join())

	_, ok := <-client.Echoes()
	require.False(t, ok, "non-echo client must see its echo channel close with no records")
}

func TestServerCloseHandleIdempotentAcrossFacade(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", 64)
	require.NoError(t, err)
	require.NoError(t, srv.Bind())
	require.NoError(t, srv.Run())

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Join())
}
