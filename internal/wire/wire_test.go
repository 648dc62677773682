package wire

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sizes := []int{MinSize, MinSize + 1, 64, 1500}
	for _, size := range sizes {
		buf := make([]byte, size)
		ts := time.Unix(1700000000, 123456789)
		Encode(buf, 42, ts, EchoFlag)

		src := netip.MustParseAddrPort("127.0.0.1:7800")
		rx := time.Unix(1700000001, 1)
		got, err := Decode(buf, src, rx)
		require.NoError(t, err)
		require.Equal(t, uint32(42), got.Sequence)
		require.Equal(t, ts.Unix(), got.SendTime.Unix())
		require.Equal(t, ts.Nanosecond(), got.SendTime.Nanosecond())
		require.Equal(t, EchoFlag, got.Flags)
		require.Equal(t, size, got.Size)
	}
}

func TestDecodeTooSmall(t *testing.T) {
	buf := make([]byte, MinSize-1)
	_, err := Decode(buf, netip.MustParseAddrPort("127.0.0.1:1"), time.Now())
	require.ErrorIs(t, err, ErrPacketTooSmall)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
}

func TestDecodeNoSourceAddress(t *testing.T) {
	buf := make([]byte, MinSize)
	_, err := Decode(buf, netip.AddrPort{}, time.Now())
	require.ErrorIs(t, err, ErrNoSourceAddress)
}

func TestDecodeNoReceiveTime(t *testing.T) {
	buf := make([]byte, MinSize)
	_, err := Decode(buf, netip.MustParseAddrPort("127.0.0.1:1"), time.Time{})
	require.ErrorIs(t, err, ErrNoReceiveTime)
}

func TestTimeSpecDuration(t *testing.T) {
	ts := TimeSpec{Sec: 1, Nsec: 500_000_000}
	require.Equal(t, 1500*time.Millisecond, ts.Duration())
}
