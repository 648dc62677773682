// Package procutil provides the realtime-scheduling, memory-locking
// and capability primitives LUNA uses to make its send/receive timing
// deterministic. Everything here is best-effort: callers are expected
// to treat permission failures as warnings via AcceptNoPerm, not fatal
// errors.
package procutil

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// AcceptNoPerm treats a permission-denied error as a logged warning
// and returns nil; any other error (including nil) is returned
// unchanged. This implements the spec's "caller policy is to log and
// continue" for privileged operations that are nice-to-have, not
// required, for correct operation.
func AcceptNoPerm(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		log.Warnf("permission denied for privileged operation, continuing without it: %v", err)
		return nil
	}
	return err
}

// Mlock flag values, re-exported so callers don't need to import
// golang.org/x/sys/unix directly just to request memory locking.
const (
	MCLCurrent = unix.MCL_CURRENT
	MCLFuture  = unix.MCL_FUTURE
)
