// Package lunaserver implements the receive-and-selectively-echo side
// of LUNA: bind a datagram socket, enable kernel receive timestamps,
// and loop receiving packets, echoing back the ones that ask for it
// and publishing decoded records, grounded on facebook-time's
// `ptp4u/server` bind/receive-loop/CloseHandle pattern and the
// original Rust `server::run`.
package lunaserver

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/airtower-luna/luna-go/internal/krx"
	"github.com/airtower-luna/luna-go/internal/logsink"
	"github.com/airtower-luna/luna-go/internal/lunametrics"
	"github.com/airtower-luna/luna-go/internal/procutil"
	"github.com/airtower-luna/luna-go/internal/wire"
)

// Server receives LUNA packets and optionally echoes and publishes
// them. It is configured before Bind and run after.
type Server struct {
	bindAddr   netip.AddrPort
	bufferSize int
	sink       logsink.Sink
	metrics    *lunametrics.Metrics

	conn  *net.UDPConn
	fd    int
	bound netip.AddrPort
}

// Result reports the server's rusage bookkeeping at clean shutdown.
type Result struct {
	MajorPageFaults int64
	MinorPageFaults int64
}

// New configures a server without allocating a socket. sink, if
// non-nil, receives every decoded record; otherwise records are
// formatted to standard output. metrics, if non-nil, is updated with
// a received-count increment for every decoded packet and an
// echoed-count increment for every one the server echoes back.
func New(bind netip.AddrPort, bufferSize int, sink logsink.Sink, metrics *lunametrics.Metrics) *Server {
	return &Server{bindAddr: bind, bufferSize: bufferSize, sink: sink, metrics: metrics}
}

// Bind opens the socket, enables receive timestamping, and binds it.
// The effective bound address (including any ephemeral port) becomes
// available via Bound. It returns a CloseHandle the caller can use to
// stop Run from another goroutine.
func (s *Server) Bind() (*CloseHandle, error) {
	network := "udp4"
	if s.bindAddr.Addr().Is6() {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, net.UDPAddrFromAddrPort(s.bindAddr))
	if err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}
	fd, err := krx.ConnFd(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind: %w", err)
	}
	if err := krx.EnableRXTimestamps(fd); err != nil {
		log.Warnf("could not enable receive timestamps: %v", err)
	}

	local, err := netip.ParseAddrPort(conn.LocalAddr().String())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind: %w", err)
	}

	s.conn = conn
	s.fd = fd
	s.bound = local

	return &CloseHandle{fd: fd}, nil
}

// Bound returns the effective bind address, or the zero value before
// Bind has completed.
func (s *Server) Bound() netip.AddrPort {
	return s.bound
}

// Run enters the receive loop described in the server run-loop
// algorithm: best-effort realtime priority and memory locking under
// scoped capabilities, capability clearing, then receive-decode-
// publish until the CloseHandle shuts the socket down. It returns
// once that happens, or on an unrecoverable receive error.
func (s *Server) Run() (Result, error) {
	if s.conn == nil {
		return Result{}, fmt.Errorf("lunaserver: Bind must be called before Run")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := procutil.AcceptNoPerm(procutil.WithCapability(procutil.CapSysNice, func() error {
		return procutil.SetRTPrio(20)
	})); err != nil {
		return Result{}, fmt.Errorf("set realtime priority: %w", err)
	}

	if err := procutil.AcceptNoPerm(procutil.WithCapability(procutil.CapIPCLock, func() error {
		return procutil.Mlockall(procutil.MCLCurrent)
	})); err != nil {
		return Result{}, fmt.Errorf("lock memory: %w", err)
	}

	if err := procutil.ClearCapabilities(); err != nil {
		log.Warnf("could not clear capabilities: %v", err)
	}

	var rusagePre unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_THREAD, &rusagePre); err != nil {
		return Result{}, fmt.Errorf("getrusage: %w", err)
	}

	if err := s.receiveLoop(); err != nil {
		return Result{}, err
	}

	var rusagePost unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_THREAD, &rusagePost); err != nil {
		return Result{}, fmt.Errorf("getrusage: %w", err)
	}

	return Result{
		MajorPageFaults: rusagePost.Majflt - rusagePre.Majflt,
		MinorPageFaults: rusagePost.Minflt - rusagePre.Minflt,
	}, nil
}

func (s *Server) receiveLoop() error {
	sink := s.sink
	if sink == nil {
		sink = logsink.NewText(os.Stdout)
	}

	buf := make([]byte, s.bufferSize)
	for {
		n, src, rx, err := krx.ReadFrom(s.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EBADF) || errors.Is(err, unix.EINVAL) {
				// CloseHandle shut the descriptor down from under us.
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if n == 0 {
			// CloseHandle-initiated shutdown: clean exit.
			return nil
		}

		if n >= wire.MinSize && buf[20]&wire.EchoFlag != 0 {
			if err := krx.SendTo(s.fd, buf[:n], src); err != nil {
				log.Warnf("echo send failed: %v", err)
			} else if s.metrics != nil {
				s.metrics.IncEchoed()
			}
		}

		rec, err := wire.Decode(buf[:n], src, rx)
		if err != nil {
			log.Debugf("discarding undecodable packet: %v", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.IncReceived()
		}
		if !sink.Publish(rec) {
			return nil
		}
	}
}

// CloseHandle is the exclusive, thread-safe, idempotent capability to
// stop a running server's receive loop.
type CloseHandle struct {
	fd int

	mu     sync.Mutex
	closed bool
}

// Close shuts the server's socket down for both directions, causing
// its next receive to observe a zero-byte message and exit cleanly.
// It is safe to call more than once: the second and later calls are a
// no-op. ENOTCONN (the server may already be stopped) is treated as
// success.
func (h *CloseHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	if err := unix.Shutdown(h.fd, unix.SHUT_RDWR); err != nil && !errors.Is(err, unix.ENOTCONN) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
