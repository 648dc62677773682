package luna

import "errors"

// Sentinel errors for the lifecycle-misuse and size-out-of-range
// error kinds, so callers can distinguish them with errors.Is instead
// of matching on message text.
var (
	// ErrAlreadyRunning is returned by Start/Bind/Run when the
	// Client/Server is already running.
	ErrAlreadyRunning = errors.New("luna: already running")
	// ErrNotRunning is returned by Put/Stop when the Client/Server is
	// not currently running.
	ErrNotRunning = errors.New("luna: not running")
	// ErrSizeOutOfRange is returned by Put when size falls outside
	// [wire.MinSize, buffer_size].
	ErrSizeOutOfRange = errors.New("luna: size out of range")
)
