//go:build linux

package procutil

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Capability identifies a Linux capability bit usable with
// WithCapability. Only the two LUNA cares about are named; the
// numeric values come from linux/capability.h.
type Capability uintptr

const (
	// CapSysNice gates SCHED_RR (and priority/nice) changes.
	CapSysNice Capability = 23
	// CapIPCLock gates mlockall beyond the unprivileged limit.
	CapIPCLock Capability = 14
)

const (
	linuxCapabilityVersion3 = 0x20080522
	capWordCount            = 2 // _LINUX_CAPABILITY_U32S_3
)

// capUserHeader mirrors struct __user_cap_header_struct.
type capUserHeader struct {
	version uint32
	pid     int32
}

// capUserData mirrors struct __user_cap_data_struct, one per 32-bit word.
type capUserData struct {
	effective   uint32
	permitted   uint32
	inheritable uint32
}

func capget(hdr *capUserHeader, data *[capWordCount]capUserData) error {
	_, _, errno := unix.Syscall(unix.SYS_CAPGET, uintptr(unsafe.Pointer(hdr)), uintptr(unsafe.Pointer(&data[0])), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func capset(hdr *capUserHeader, data *[capWordCount]capUserData) error {
	_, _, errno := unix.Syscall(unix.SYS_CAPSET, uintptr(unsafe.Pointer(hdr)), uintptr(unsafe.Pointer(&data[0])), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func wordAndBit(cap Capability) (int, uint32) {
	return int(cap) / 32, uint32(1) << (uint(cap) % 32)
}

// WithCapability raises cap into the effective set, runs fn, and
// drops it again on every exit path (success, error or panic). If cap
// is not present in the permitted set the action is not invoked and a
// permission error is returned, matching the spec's scoped-capability
// contract.
func WithCapability(cap Capability, fn func() error) (err error) {
	hdr := &capUserHeader{version: linuxCapabilityVersion3, pid: 0}
	var data [capWordCount]capUserData
	if err := capget(hdr, &data); err != nil {
		return fmt.Errorf("capget: %w", err)
	}

	word, bit := wordAndBit(cap)
	if data[word].permitted&bit == 0 {
		return fmt.Errorf("capability %d not in permitted set: %w", cap, unix.EPERM)
	}

	already := data[word].effective&bit != 0
	if !already {
		raised := data
		raised[word].effective |= bit
		if err := capset(hdr, &raised); err != nil {
			return fmt.Errorf("capset (raise): %w", err)
		}
		defer func() {
			// reload header: capset wants pid==0 semantics preserved, header is stateless
			dropHdr := &capUserHeader{version: linuxCapabilityVersion3, pid: 0}
			dropped := raised
			dropped[word].effective &^= bit
			if derr := capset(dropHdr, &dropped); derr != nil && err == nil {
				err = fmt.Errorf("capset (drop): %w", derr)
			}
		}()
	}

	return fn()
}

// ClearCapabilities drops every capability from both the effective
// and permitted sets of the calling thread, so no later code path can
// raise one by surprise. It is irreversible for the lifetime of the
// thread: callers use it once all privileged setup is complete.
func ClearCapabilities() error {
	hdr := &capUserHeader{version: linuxCapabilityVersion3, pid: 0}
	var data [capWordCount]capUserData
	if err := capset(hdr, &data); err != nil {
		return fmt.Errorf("capset (clear): %w", err)
	}
	return nil
}

// schedParam mirrors struct sched_param, the only field LUNA needs.
type schedParam struct {
	priority int32
}

// SetRTPrio installs SCHED_RR on the calling OS thread with priority
// min(maxRR, minRR+offset). Linux thread-directed scheduling
// attributes apply to the specific kernel thread, so SetRTPrio itself
// calls runtime.LockOSThread and never unlocks: the calling goroutine
// stays on that thread for the rest of its life.
func SetRTPrio(offset int) error {
	runtime.LockOSThread()

	minRR, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MIN, uintptr(unix.SCHED_RR), 0, 0)
	if errno != 0 {
		return fmt.Errorf("sched_get_priority_min: %w", errno)
	}
	maxRR, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MAX, uintptr(unix.SCHED_RR), 0, 0)
	if errno != 0 {
		return fmt.Errorf("sched_get_priority_max: %w", errno)
	}

	prio := int(minRR) + offset
	if prio > int(maxRR) {
		prio = int(maxRR)
	}

	param := schedParam{priority: int32(prio)}
	// tid 0 means "the calling thread" for sched_setscheduler.
	_, _, errno = unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(unix.SCHED_RR), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return fmt.Errorf("sched_setscheduler: %w", errno)
	}
	return nil
}

// Mlockall requests residency of the calling process's pages per
// flags (MCLCurrent, optionally MCLFuture).
func Mlockall(flags int) error {
	if err := unix.Mlockall(flags); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}
