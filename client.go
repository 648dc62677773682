package luna

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/airtower-luna/luna-go/internal/lunametrics"
	"github.com/airtower-luna/luna-go/internal/logsink"
	"github.com/airtower-luna/luna-go/internal/sender"
	"github.com/airtower-luna/luna-go/internal/wire"
)

// Client is the embeddable LUNA sender: it owns one sender thread
// (and, if Echo is requested, one echo-reader thread) per Start/Close
// cycle, matching the idle -> running -> draining -> stopped lifecycle
// of spec.md section 3.
type Client struct {
	server     netip.AddrPort
	bufferSize int
	echo       bool
	echoWait   time.Duration
	metrics    *lunametrics.Metrics

	mu      sync.Mutex
	running bool
	packets chan wire.PacketData
	sink    *logsink.Chan
	done    chan error
	result  sender.Result
}

// ClientOption configures optional Client behavior.
type ClientOption func(*Client)

// WithEcho requests that the server echo packets back.
func WithEcho() ClientOption {
	return func(c *Client) { c.echo = true }
}

// WithEchoGrace sets the delay between half-closing the socket for
// writes and half-closing it for reads, to let in-flight echoes
// arrive before the echo reader is torn down.
func WithEchoGrace(d time.Duration) ClientOption {
	return func(c *Client) { c.echoWait = d }
}

// WithClientMetrics attaches a metrics sink that is updated as
// packets are sent and echoes are accepted.
func WithClientMetrics(m *lunametrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient resolves server (an IP literal or hostname, "HOST:PORT")
// eagerly and configures a Client with the given send buffer size.
// Resolution failure is the address-resolution error kind: fatal at
// construction, not deferred to Start.
func NewClient(server string, bufferSize int, opts ...ClientOption) (*Client, error) {
	addr, err := resolveAddrPort(server)
	if err != nil {
		return nil, err
	}
	if bufferSize < wire.MinSize {
		return nil, fmt.Errorf("client: buffer size %d below minimum %d", bufferSize, wire.MinSize)
	}
	c := &Client{server: addr, bufferSize: bufferSize}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start spawns the sender (and, if configured, echo-reader) thread
// and returns immediately. Packets submitted via Put are sent on the
// generator-emission schedule described in spec.md section 4.4.
// Calling Start while already running is the already-running error
// kind: returned without side effects.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("client: %w", ErrAlreadyRunning)
	}

	c.packets = make(chan wire.PacketData)
	c.sink = logsink.NewChan(64)
	c.done = make(chan error, 1)
	c.running = true

	packets := c.packets
	sink := c.sink
	cfg := sender.Config{
		Server:     c.server,
		BufferSize: c.bufferSize,
		Echo:       c.echo,
		Packets:    packets,
		EchoSink:   sink,
		EchoWait:   c.echoWait,
		Metrics:    c.metrics,
	}
	metrics := c.metrics

	go func() {
		var result sender.Result
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("sender thread panic: %v", r)
				}
			}()
			result, err = sender.Run(context.Background(), cfg)
		}()
		sink.Close()
		if metrics != nil {
			metrics.AddPageFaults(result.MajorPageFaults, result.MinorPageFaults)
		}
		c.mu.Lock()
		c.result = result
		c.mu.Unlock()
		c.done <- err
	}()

	return nil
}

// Put submits one packet-data directive to the running sender: after
// delay relative to the previous send, transmit a packet of size
// bytes (clamped to the configured buffer size by the sender). A size
// below wire.MinSize or above the client's buffer size is the
// size-out-of-range error kind, rejected here rather than forwarded
// to the sender loop. Put blocks if the sender is not yet ready to
// receive the next directive.
func (c *Client) Put(delay wire.TimeSpec, size int) error {
	c.mu.Lock()
	running := c.running
	bufferSize := c.bufferSize
	packets := c.packets
	c.mu.Unlock()

	if !running {
		return fmt.Errorf("client: %w", ErrNotRunning)
	}
	if size < wire.MinSize || size > bufferSize {
		return fmt.Errorf("client: size %d out of range [%d, %d]: %w", size, wire.MinSize, bufferSize, ErrSizeOutOfRange)
	}

	packets <- wire.PacketData{Delay: delay, Size: size}
	if c.metrics != nil {
		c.metrics.IncSent()
	}
	return nil
}

// Close ends the packet stream by closing the submission channel,
// which drives the sender's shutdown sequence (half-close write,
// grace period, half-close read, echo-reader join). It does not
// itself block for that sequence to finish; call Join for that.
// Closing an already-stopped Client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	close(c.packets)
	c.running = false
	return nil
}

// Running reports whether the sender thread is active.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Join blocks until the sender thread (and any echo reader) has
// fully stopped, returning any propagated os-error.
func (c *Client) Join() error {
	return <-c.done
}

// PageFaults returns the major/minor page-fault deltas rusage
// reported for the run that just finished. Valid after Join returns.
func (c *Client) PageFaults() (major, minor int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result.MajorPageFaults, c.result.MinorPageFaults
}

// Echoes returns the channel of accepted echo records. Iteration
// blocks until the next record is available and ends cleanly when
// the sender's shutdown sequence closes the underlying sink.
func (c *Client) Echoes() <-chan wire.ReceivedPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink.Records()
}
