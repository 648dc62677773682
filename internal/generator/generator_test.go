package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/airtower-luna/luna-go/internal/wire"
)

func TestDefaultGenerator(t *testing.T) {
	size, nsec := 32, 200_000_000
	options := map[string]string{
		"count": "20",
		"size":  "32",
		"nsec":  "200000000",
	}
	ch, err := Run(context.Background(), Default, options)
	require.NoError(t, err)

	step := wire.TimeSpec{Nsec: int64(nsec)}
	n := 0
	for pkt := range ch {
		require.Equal(t, step, pkt.Delay)
		require.Equal(t, size, pkt.Size)
		n++
	}
	require.Equal(t, 20, n)
}

func TestVaryGenerator(t *testing.T) {
	ch, err := Run(context.Background(), Vary, map[string]string{})
	require.NoError(t, err)

	want := []int{21, 42, 84, 168, 336, 672, 1344, 1500, 1344, 672,
		336, 168, 84, 42, 21, 42, 84, 168, 336, 672}
	step := wire.TimeSpec{Nsec: 1_000_000}

	var got []int
	for pkt := range ch {
		require.Equal(t, step, pkt.Delay)
		got = append(got, pkt.Size)
	}
	require.Equal(t, want, got)
}

func TestParseTimeSpec(t *testing.T) {
	cases := []struct {
		in   string
		want wire.TimeSpec
	}{
		{"1.5", wire.TimeSpec{Sec: 1, Nsec: 500_000_000}},
		{"0.000000001", wire.TimeSpec{Sec: 0, Nsec: 1}},
		{"2", wire.TimeSpec{Sec: 2, Nsec: 0}},
		{".25", wire.TimeSpec{Sec: 0, Nsec: 250_000_000}},
		{"3.", wire.TimeSpec{Sec: 3, Nsec: 0}},
		{"1.1234567891234", wire.TimeSpec{Sec: 1, Nsec: 123456789}},
	}
	for _, c := range cases {
		got, err := ParseTimeSpec(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseIntervalMutuallyExclusive(t *testing.T) {
	_, err := ParseInterval(map[string]string{
		"msec": "5",
		"usec": "10",
	}, wire.TimeSpec{})
	require.Error(t, err)
	var ioe *InvalidOptionError
	require.ErrorAs(t, err, &ioe)
}

func TestRunInvalidOption(t *testing.T) {
	_, err := Run(context.Background(), Default, map[string]string{"size": "not-a-number"})
	require.Error(t, err)
	var ioe *InvalidOptionError
	require.ErrorAs(t, err, &ioe)
	require.Equal(t, "size", ioe.Key)
}

func TestRunExternal(t *testing.T) {
	ch, err := RunExternal(context.Background(), func(ctx context.Context, out chan<- wire.PacketData) error {
		out <- wire.PacketData{Delay: wire.TimeSpec{Nsec: 1}, Size: wire.MinSize}
		return nil
	})
	require.NoError(t, err)
	pkt := <-ch
	require.Equal(t, wire.MinSize, pkt.Size)
	_, ok := <-ch
	require.False(t, ok)
}
