// Package echoreader implements the client-side echo receive loop:
// read kernel-timestamped datagrams off a socket the sender owns,
// decode them, discard anything not from the expected server, and
// publish the rest. Termination is driven entirely by the sender's
// half-shutdown of the socket for reads (a zero-byte receive), never
// by a done channel of its own, grounded on the original Rust
// `client::echo_log` loop.
package echoreader

import (
	"fmt"
	"net/netip"

	log "github.com/sirupsen/logrus"

	"github.com/airtower-luna/luna-go/internal/krx"
	"github.com/airtower-luna/luna-go/internal/wire"
)

// Sink receives decoded echo records. logsink.Text, logsink.Chan and
// lunametrics.Metrics.WrapEchoSink's decorator all satisfy this
// interface.
type Sink interface {
	Publish(wire.ReceivedPacket) bool
}

// Run reads echoes from fd until a zero-byte receive (the sender's
// half-shutdown signal) or a read error, filtering to packets whose
// source matches server. Accepted records are published to sink if
// non-nil, otherwise formatted to standard output. It returns the
// count of accepted echoes.
func Run(fd int, bufferSize int, server netip.AddrPort, sink Sink) (int, error) {
	buf := make([]byte, bufferSize)
	count := 0
	printedHeader := false

	for {
		n, src, rx, err := krx.ReadFrom(fd, buf)
		if err != nil {
			return count, fmt.Errorf("receive echo: %w", err)
		}
		if n == 0 {
			// socket shut down for reads: clean termination
			return count, nil
		}
		if src != server {
			continue
		}

		rec, err := wire.Decode(buf[:n], src, rx)
		if err != nil {
			log.Debugf("discarding undecodable echo: %v", err)
			continue
		}

		if sink != nil {
			if !sink.Publish(rec) {
				return count, nil
			}
		} else {
			if !printedHeader {
				fmt.Println(rec.Header())
				printedHeader = true
			}
			fmt.Println(rec.String())
		}
		count++
	}
}
