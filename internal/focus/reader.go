// Package focus reports the operating system's active Focus (Do Not Disturb)
// mode.
package focus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRead wraps every failure to determine the mode. It is always
// recoverable; the accompanying mode is NoFocus.
var ErrRead = errors.New("focus read failed")

const DefaultReadTimeout = time.Second

// Mode is the name of a Focus mode as shown by the OS.
type Mode string

const NoFocus Mode = ""

func (m Mode) String() string {
	if m == NoFocus {
		return "No focus"
	}
	return string(m)
}

// Reader is polled by the caller; implementations never block longer than
// their read timeout.
type Reader interface {
	CurrentMode(ctx context.Context) (Mode, error)
}

// readBounded runs read on its own goroutine so a stuck filesystem or child
// process cannot hold the caller past timeout.
func readBounded(ctx context.Context, timeout time.Duration, read func(ctx context.Context) (Mode, error)) (Mode, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		mode Mode
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := read(ctx)
		ch <- result{mode: m, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return NoFocus, fmt.Errorf("%w: %w", ErrRead, r.err)
		}
		return r.mode, nil
	case <-ctx.Done():
		return NoFocus, fmt.Errorf("%w: %w", ErrRead, ctx.Err())
	}
}
