// Package generator produces the lazy (delay, size) packet-data
// sequence the sender consumes. Each variant runs in its own
// goroutine and closes its output channel when done, which is the
// sender's end-of-stream signal.
package generator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/airtower-luna/luna-go/internal/wire"
)

// Variant selects a built-in packet schedule.
type Variant int

const (
	// Default sends a fixed-size packet at a fixed interval.
	Default Variant = iota
	// Vary oscillates size between wire.MinSize and max-size by doubling up then halving down.
	Vary
	// Rapid is a convenience preset: minimum-size packets every 30us.
	Rapid
	// Large is a convenience preset: 1500-byte packets every 1ms.
	Large
)

func (v Variant) String() string {
	switch v {
	case Default:
		return "default"
	case Vary:
		return "vary"
	case Rapid:
		return "rapid"
	case Large:
		return "large"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// InvalidOptionError names the offending option key, matching the
// spec.md invalid-option error taxonomy entry.
type InvalidOptionError struct {
	Key string
	Err error
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid option %q: %v", e.Key, e.Err)
}
func (e *InvalidOptionError) Unwrap() error { return e.Err }

// External is the extension point: an embedder-supplied function that
// ultimately yields the same PacketData pairs as the built-in
// variants. It must not share memory with the sender beyond the
// channel it is handed. A failure (including the consumer dropping
// the channel) terminates only the generator goroutine.
type External func(ctx context.Context, out chan<- wire.PacketData) error

// Run starts variant in its own goroutine, configured from options,
// and returns the receive end of its output channel. The channel is
// closed when the variant's sequence is exhausted or ctx is
// cancelled.
func Run(ctx context.Context, variant Variant, options map[string]string) (<-chan wire.PacketData, error) {
	var emit func(context.Context, chan<- wire.PacketData) error
	var err error

	switch variant {
	case Default:
		emit, err = planDefault(options)
	case Vary:
		emit, err = planVary(options)
	case Rapid:
		emit, err = planRapid(options)
	case Large:
		emit, err = planLarge(options)
	default:
		return nil, fmt.Errorf("unknown generator variant %v", variant)
	}
	if err != nil {
		return nil, err
	}

	out := make(chan wire.PacketData)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("generator %s panicked: %v", variant, r)
			}
		}()
		if err := emit(ctx, out); err != nil {
			log.Errorf("generator %s failed: %v", variant, err)
		}
	}()
	return out, nil
}

// RunExternal starts an embedder-supplied generator the same way Run
// starts a built-in variant. A panic in ext is isolated here: it
// terminates only this goroutine, closing out as if the generator had
// ended normally.
func RunExternal(ctx context.Context, ext External) (<-chan wire.PacketData, error) {
	out := make(chan wire.PacketData)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("external generator panicked: %v", r)
			}
		}()
		if err := ext(ctx, out); err != nil {
			log.Errorf("external generator failed: %v", err)
		}
	}()
	return out, nil
}

func getNum(options map[string]string, key string, def int) (int, error) {
	s, ok := options[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &InvalidOptionError{Key: key, Err: err}
	}
	return v, nil
}

// ParseTimeSpec parses a "S.NNNNNNNNN"-style string: empty integer or
// fractional parts are treated as zero, and fractional digits beyond
// the ninth are truncated.
func ParseTimeSpec(s string) (wire.TimeSpec, error) {
	secPart, nsecPart, _ := strings.Cut(s, ".")
	var sec, nsec int64
	if secPart != "" {
		v, err := strconv.ParseInt(secPart, 10, 64)
		if err != nil {
			return wire.TimeSpec{}, fmt.Errorf("parsing seconds %q: %w", secPart, err)
		}
		sec = v
	}
	if nsecPart != "" {
		if len(nsecPart) > 9 {
			nsecPart = nsecPart[:9]
		}
		// right-pad the truncated fraction with zeros out to nanosecond resolution
		for len(nsecPart) < 9 {
			nsecPart += "0"
		}
		v, err := strconv.ParseInt(nsecPart, 10, 64)
		if err != nil {
			return wire.TimeSpec{}, fmt.Errorf("parsing fractional seconds %q: %w", nsecPart, err)
		}
		nsec = v
	}
	return wire.TimeSpec{Sec: sec, Nsec: nsec}, nil
}

// unitKeys are the mutually-exclusive time-unit options accepted by
// the Default generator's interval configuration.
var unitKeys = []string{"interval", "msec", "usec", "nsec"}

// ParseInterval implements the Default generator's "at most one time
// unit" rule: interval takes a "S.NNNNNNNNN" string, while msec/usec/nsec
// take a plain integer count of that unit.
func ParseInterval(options map[string]string, def wire.TimeSpec) (wire.TimeSpec, error) {
	present := make([]string, 0, 1)
	for _, k := range unitKeys {
		if _, ok := options[k]; ok {
			present = append(present, k)
		}
	}
	if len(present) > 1 {
		return wire.TimeSpec{}, &InvalidOptionError{
			Key: strings.Join(present, ","),
			Err: fmt.Errorf("at most one of %s may be specified", strings.Join(unitKeys, ", ")),
		}
	}
	if len(present) == 0 {
		return def, nil
	}
	key := present[0]
	switch key {
	case "interval":
		ts, err := ParseTimeSpec(options[key])
		if err != nil {
			return wire.TimeSpec{}, &InvalidOptionError{Key: key, Err: err}
		}
		return ts, nil
	case "msec":
		v, err := getNum(options, key, 0)
		if err != nil {
			return wire.TimeSpec{}, err
		}
		return wire.TimeSpec{Nsec: int64(v) * 1_000_000}, nil
	case "usec":
		v, err := getNum(options, key, 0)
		if err != nil {
			return wire.TimeSpec{}, err
		}
		return wire.TimeSpec{Nsec: int64(v) * 1_000}, nil
	case "nsec":
		v, err := getNum(options, key, 0)
		if err != nil {
			return wire.TimeSpec{}, err
		}
		return wire.TimeSpec{Nsec: int64(v)}, nil
	}
	return def, nil
}

func parseDefaultInterval(options map[string]string) (wire.TimeSpec, error) {
	return ParseInterval(options, wire.TimeSpec{Nsec: 500_000_000})
}

func send(ctx context.Context, out chan<- wire.PacketData, pd wire.PacketData) bool {
	select {
	case out <- pd:
		return true
	case <-ctx.Done():
		return false
	}
}

func planDefault(options map[string]string) (func(context.Context, chan<- wire.PacketData) error, error) {
	count, err := getNum(options, "count", 10)
	if err != nil {
		return nil, err
	}
	size, err := getNum(options, "size", wire.MinSize)
	if err != nil {
		return nil, err
	}
	delay, err := parseDefaultInterval(options)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, out chan<- wire.PacketData) error {
		for i := 0; i < count; i++ {
			if !send(ctx, out, wire.PacketData{Delay: delay, Size: size}) {
				return ctx.Err()
			}
		}
		return nil
	}, nil
}

func planRapid(options map[string]string) (func(context.Context, chan<- wire.PacketData) error, error) {
	count, err := getNum(options, "count", 200)
	if err != nil {
		return nil, err
	}
	nsec, err := getNum(options, "nsec", 30_000)
	if err != nil {
		return nil, err
	}
	delay := wire.TimeSpec{Nsec: int64(nsec)}
	return func(ctx context.Context, out chan<- wire.PacketData) error {
		for i := 0; i < count; i++ {
			if !send(ctx, out, wire.PacketData{Delay: delay, Size: wire.MinSize}) {
				return ctx.Err()
			}
		}
		return nil
	}, nil
}

func planLarge(options map[string]string) (func(context.Context, chan<- wire.PacketData) error, error) {
	count, err := getNum(options, "count", 10)
	if err != nil {
		return nil, err
	}
	delay := wire.TimeSpec{Nsec: 1_000_000}
	return func(ctx context.Context, out chan<- wire.PacketData) error {
		for i := 0; i < count; i++ {
			if !send(ctx, out, wire.PacketData{Delay: delay, Size: 1500}) {
				return ctx.Err()
			}
		}
		return nil
	}, nil
}

func planVary(options map[string]string) (func(context.Context, chan<- wire.PacketData) error, error) {
	count, err := getNum(options, "count", 20)
	if err != nil {
		return nil, err
	}
	maxSize, err := getNum(options, "max-size", 1500)
	if err != nil {
		return nil, err
	}
	delay := wire.TimeSpec{Nsec: 1_000_000}

	return func(ctx context.Context, out chan<- wire.PacketData) error {
		s := wire.MinSize
		grow := true
		for i := 0; i < count; i++ {
			size := s
			if size > maxSize {
				size = maxSize
			}
			if !send(ctx, out, wire.PacketData{Delay: delay, Size: size}) {
				return ctx.Err()
			}
			if grow {
				s *= 2
				grow = s < maxSize
			} else {
				s /= 2
				if s < wire.MinSize {
					s = wire.MinSize
				}
				grow = s <= wire.MinSize
			}
		}
		return nil
	}, nil
}
