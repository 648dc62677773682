// Package logsink delivers ReceivedPacket records to one of the two
// observable modes spec.md describes: a tab-separated text stream, or
// an in-process channel a consumer drains in arrival order. The mode
// is fixed at construction and never changes at runtime.
package logsink

import (
	"fmt"
	"io"
	"sync"

	"github.com/airtower-luna/luna-go/internal/wire"
)

// Sink is the minimal interface the server and echo reader publish
// ReceivedPacket records through. Publish reports false when the sink
// can no longer accept records, which the caller treats as its own
// termination signal. Chan reports false only once it has been
// closed; a consumer that stops reading is not detected.
type Sink interface {
	Publish(wire.ReceivedPacket) bool
}

// Text writes one tab-separated line per record to w, preceded once
// by a header line.
type Text struct {
	w        io.Writer
	mu       sync.Mutex
	wroteHdr bool
}

// NewText returns a Sink that formats records to w.
func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

// Publish writes rec as one line, printing the header line first if
// this is the first call.
func (t *Text) Publish(rec wire.ReceivedPacket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.wroteHdr {
		fmt.Fprintln(t.w, rec.Header())
		t.wroteHdr = true
	}
	fmt.Fprintln(t.w, rec.String())
	return true
}

// Chan delivers records to a bounded channel a consumer drains. If
// the channel is full, Publish blocks until the consumer receives a
// record; closing the sink does not release a blocked Publish.
type Chan struct {
	ch     chan wire.ReceivedPacket
	mu     sync.Mutex
	closed bool
}

// NewChan returns a Sink backed by a channel of the given capacity.
// Callers read the channel via Records.
func NewChan(capacity int) *Chan {
	return &Chan{ch: make(chan wire.ReceivedPacket, capacity)}
}

// Records returns the channel consumers should range over.
func (c *Chan) Records() <-chan wire.ReceivedPacket {
	return c.ch
}

// Publish delivers rec to the channel. It reports false, without
// blocking forever, if the sink has been closed.
func (c *Chan) Publish(rec wire.ReceivedPacket) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	c.ch <- rec
	return true
}

// Close closes the underlying channel; calls after the first are a
// no-op. Callers must ensure no further Publish calls race with Close (the
// server/echo-reader shutdown sequence guarantees this: Close happens
// after the receive loop has exited).
func (c *Chan) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
