//go:build linux

package sender

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/airtower-luna/luna-go/internal/echoreader"
	"github.com/airtower-luna/luna-go/internal/krx"
	"github.com/airtower-luna/luna-go/internal/procutil"
	"github.com/airtower-luna/luna-go/internal/wire"
)

// Run executes the nine-step sender algorithm to completion: realtime
// priority, socket setup, optional echo reader, memory locking,
// pacing loop, shutdown sequencing and rusage reporting. It returns
// once the Packets channel is closed and the shutdown sequence has
// completed, or ctx is cancelled.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if err := procutil.SetRTPrio(20); err != nil {
		log.Warnf("could not set realtime priority: %v", err)
	}

	conn, fd, err := dialConnected(cfg.Server)
	if err != nil {
		return Result{}, fmt.Errorf("open sender socket: %w", err)
	}
	defer conn.Close()

	if err := krx.EnableRXTimestamps(fd); err != nil {
		log.Warnf("could not enable receive timestamps: %v", err)
	}

	buf := make([]byte, cfg.BufferSize)
	var flags byte
	if cfg.Echo {
		flags = wire.EchoFlag
	}

	var group *errgroup.Group
	var echoCount int
	if cfg.Echo {
		var sink echoreader.Sink = cfg.EchoSink
		if cfg.Metrics != nil {
			sink = cfg.Metrics.WrapEchoSink(sink)
		}
		group, ctx = errgroup.WithContext(ctx)
		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("echo reader panic: %v", r)
				}
			}()
			n, runErr := echoreader.Run(fd, cfg.BufferSize, cfg.Server, sink)
			echoCount = n
			return runErr
		})
	}

	// mlockall runs after the echo reader goroutine has started: once
	// locking is active, further allocations may fail if they would
	// exceed the unprivileged lock limit.
	if err := procutil.Mlockall(procutil.MCLCurrent | procutil.MCLFuture); err != nil {
		log.Warnf("could not lock memory: %v", err)
	}

	var rusagePre unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_THREAD, &rusagePre); err != nil {
		return Result{}, fmt.Errorf("getrusage: %w", err)
	}

	if err := pace(ctx, conn, buf, cfg.BufferSize, flags, cfg.Packets); err != nil {
		return Result{}, err
	}

	if err := unix.Shutdown(fd, unix.SHUT_WR); err != nil {
		return Result{}, fmt.Errorf("shutdown write: %w", err)
	}
	if cfg.EchoWait > 0 {
		time.Sleep(cfg.EchoWait)
	}
	if err := unix.Shutdown(fd, unix.SHUT_RD); err != nil {
		return Result{}, fmt.Errorf("shutdown read: %w", err)
	}

	if group != nil {
		if err := group.Wait(); err != nil {
			log.Errorf("echo reader error: %v", err)
		}
	}

	var rusagePost unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_THREAD, &rusagePost); err != nil {
		return Result{}, fmt.Errorf("getrusage: %w", err)
	}

	return Result{
		EchoCount:       echoCount,
		MajorPageFaults: rusagePost.Majflt - rusagePre.Majflt,
		MinorPageFaults: rusagePost.Minflt - rusagePre.Minflt,
	}, nil
}

// dialConnected opens a datagram socket matching server's address
// family, connects it, and returns both the *net.UDPConn (for Close)
// and the raw descriptor used for the blocking send/sleep/shutdown
// syscalls the pacing loop needs.
func dialConnected(server netip.AddrPort) (*net.UDPConn, int, error) {
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(server))
	if err != nil {
		return nil, -1, err
	}
	fd, err := krx.ConnFd(conn)
	if err != nil {
		conn.Close()
		return nil, -1, err
	}
	return conn, fd, nil
}

// pace runs step 7 of the sender algorithm: the absolute-time send
// loop. t is unset until the first packet arrives, after which every
// subsequent delay advances it without drift.
func pace(ctx context.Context, conn *net.UDPConn, buf []byte, bufferSize int, flags byte, packets <-chan wire.PacketData) error {
	var t unix.Timespec
	haveT := false
	var seq uint32

	for {
		var pd wire.PacketData
		select {
		case next, ok := <-packets:
			if !ok {
				return nil
			}
			pd = next
		case <-ctx.Done():
			return ctx.Err()
		}

		if !haveT {
			if err := unix.ClockGettime(unix.CLOCK_REALTIME, &t); err != nil {
				return fmt.Errorf("clock_gettime: %w", err)
			}
			haveT = true
		}
		t = addTimespec(t, pd.Delay)

		for {
			err := unix.ClockNanosleep(unix.CLOCK_REALTIME, unix.TIMER_ABSTIME, &t, nil)
			if err == nil {
				break
			}
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("clock_nanosleep: %w", err)
		}

		var current unix.Timespec
		if err := unix.ClockGettime(unix.CLOCK_REALTIME, &current); err != nil {
			return fmt.Errorf("clock_gettime: %w", err)
		}
		wire.Encode(buf, seq, time.Unix(current.Sec, current.Nsec), flags)

		size := pd.Size
		if size > bufferSize {
			size = bufferSize
		}
		if _, err := conn.Write(buf[:size]); err != nil {
			return fmt.Errorf("send: %w", err)
		}

		seq++
	}
}

// addTimespec adds a TimeSpec delay to a unix.Timespec base,
// normalizing the nanosecond field into [0, 1e9).
func addTimespec(base unix.Timespec, delay wire.TimeSpec) unix.Timespec {
	sec := base.Sec + delay.Sec
	nsec := base.Nsec + delay.Nsec
	for nsec >= int64(time.Second) {
		nsec -= int64(time.Second)
		sec++
	}
	for nsec < 0 {
		nsec += int64(time.Second)
		sec--
	}
	return unix.Timespec{Sec: sec, Nsec: nsec}
}
