//go:build !linux

package sender

import (
	"context"
	"fmt"
)

// Run is unavailable outside Linux: the absolute-time pacing loop
// depends on clock_nanosleep(TIMER_ABSTIME), which this platform does
// not expose through golang.org/x/sys/unix.
func Run(_ context.Context, _ Config) (Result, error) {
	return Result{}, fmt.Errorf("sender: not supported on this platform")
}
