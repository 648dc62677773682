// Package sender implements the client-side absolute-time pacing
// loop: it drains a generator's PacketData channel, sleeps to each
// packet's scheduled send time, stamps and frames the packet, and
// sends it on a connected datagram socket. It owns that socket for
// its entire lifetime and coordinates a half-shutdown sequence with
// an optional echo reader, grounded on the teacher's real-time
// sender/receiver pairing in `ptp/simpleclient` and on the absolute
// pacing loop of the original Rust `client::run`.
//
// The pacing algorithm depends on clock_nanosleep(TIMER_ABSTIME),
// which is Linux-specific; Run is implemented in sender_linux.go and
// reports an unsupported-platform error elsewhere.
package sender

import (
	"net/netip"
	"time"

	"github.com/airtower-luna/luna-go/internal/echoreader"
	"github.com/airtower-luna/luna-go/internal/lunametrics"
	"github.com/airtower-luna/luna-go/internal/wire"
)

// Config describes one run of the sender loop.
type Config struct {
	// Server is the resolved address the sender connects to.
	Server netip.AddrPort
	// BufferSize is the length of the reusable send buffer; packets
	// larger than this are clamped down.
	BufferSize int
	// Echo requests the server echo packets back, and spawns an echo
	// reader goroutine sharing this sender's socket.
	Echo bool
	// Packets is the generator's output; its closure ends the pacing loop.
	Packets <-chan wire.PacketData
	// EchoSink, if non-nil, receives decoded echo records; otherwise
	// the echo reader formats them to standard output.
	EchoSink echoreader.Sink
	// EchoWait is the grace period between half-closing the socket for
	// writes and half-closing it for reads, giving in-flight echoes a
	// chance to arrive. Zero means no grace period.
	EchoWait time.Duration
	// Metrics, if non-nil, is updated with an echoed-count increment
	// and an RTT sample for every accepted echo.
	Metrics *lunametrics.Metrics
}

// Result reports the sender's end-of-run bookkeeping.
type Result struct {
	// EchoCount is the number of echoes the echo reader accepted, only
	// meaningful when Echo was requested.
	EchoCount int
	// MajorPageFaults and MinorPageFaults are the rusage deltas between
	// the pre-loop and post-loop snapshots.
	MajorPageFaults int64
	MinorPageFaults int64
}
