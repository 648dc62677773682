package luna

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/airtower-luna/luna-go/internal/lunametrics"
	"github.com/airtower-luna/luna-go/internal/logsink"
	"github.com/airtower-luna/luna-go/internal/lunaserver"
	"github.com/airtower-luna/luna-go/internal/wire"
)

// Server is the embeddable LUNA receiver: bind a datagram socket,
// then run a receive loop that decodes, optionally echoes, and
// publishes records, matching the unbound -> bound -> running ->
// stopped lifecycle of spec.md section 3.
type Server struct {
	bind       netip.AddrPort
	bufferSize int
	metrics    *lunametrics.Metrics

	mu      sync.Mutex
	srv     *lunaserver.Server
	handle  *lunaserver.CloseHandle
	sink    *logsink.Chan
	done    chan error
	running bool
	result  lunaserver.Result
}

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithServerMetrics attaches a metrics sink updated as packets are
// received and echoed.
func WithServerMetrics(m *lunametrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer resolves bind (an IP literal or hostname, "HOST:PORT";
// port 0 requests an ephemeral port) eagerly and configures a Server
// with the given receive buffer size.
func NewServer(bind string, bufferSize int, opts ...ServerOption) (*Server, error) {
	addr, err := resolveAddrPort(bind)
	if err != nil {
		return nil, err
	}
	if bufferSize < wire.MinSize {
		return nil, fmt.Errorf("server: buffer size %d below minimum %d", bufferSize, wire.MinSize)
	}
	s := &Server{bind: addr, bufferSize: bufferSize}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Bind opens and binds the receive socket. After Bind, Bound reports
// the effective address (including any ephemeral port the kernel
// assigned). Re-binding from the stopped state is permitted.
func (s *Server) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server: %w", ErrAlreadyRunning)
	}

	sink := logsink.NewChan(64)
	srv := lunaserver.New(s.bind, s.bufferSize, sink, s.metrics)
	handle, err := srv.Bind()
	if err != nil {
		return err
	}

	s.srv = srv
	s.handle = handle
	s.sink = sink
	return nil
}

// Bound returns the effective bind address, or the zero value before
// Bind has completed.
func (s *Server) Bound() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return netip.AddrPort{}
	}
	return s.srv.Bound()
}

// Run spawns the receive-loop goroutine and returns immediately. Run
// before Bind is the not-running error kind.
func (s *Server) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return fmt.Errorf("server: %w", ErrNotRunning)
	}
	if s.running {
		return fmt.Errorf("server: %w", ErrAlreadyRunning)
	}

	s.running = true
	s.done = make(chan error, 1)
	srv := s.srv
	sink := s.sink
	metrics := s.metrics

	go func() {
		var result lunaserver.Result
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("server thread panic: %v", r)
				}
			}()
			result, err = srv.Run()
		}()
		sink.Close()
		if metrics != nil {
			metrics.AddPageFaults(result.MajorPageFaults, result.MinorPageFaults)
		}
		s.mu.Lock()
		s.result = result
		s.mu.Unlock()
		s.done <- err
	}()

	return nil
}

// Stop closes the CloseHandle, causing the running receive loop to
// observe a clean shutdown signal and exit. Idempotent: a second Stop
// is a silent no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	handle := s.handle
	s.running = false
	s.mu.Unlock()
	if handle == nil {
		return fmt.Errorf("server: %w", ErrNotRunning)
	}
	return handle.Close()
}

// Running reports whether the receive loop is active.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Join blocks until the receive loop has stopped, returning any
// propagated os-error.
func (s *Server) Join() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	return <-done
}

// PageFaults returns the major/minor page-fault deltas rusage
// reported for the run that just finished. Valid after Join returns.
func (s *Server) PageFaults() (major, minor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.MajorPageFaults, s.result.MinorPageFaults
}

// Records returns the channel of decoded, received records. Iteration
// blocks until the next record is available and ends cleanly when
// Stop's shutdown closes the underlying sink.
func (s *Server) Records() <-chan wire.ReceivedPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.Records()
}
