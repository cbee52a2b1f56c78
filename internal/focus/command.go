package focus

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandReader runs a shell command and takes its trimmed stdout as the
// mode name, e.g. an osascript or shortcuts invocation.
type CommandReader struct {
	command string
	timeout time.Duration
}

func NewCommandReader(command string, timeout time.Duration) *CommandReader {
	return &CommandReader{command: command, timeout: timeout}
}

func (r *CommandReader) CurrentMode(ctx context.Context) (Mode, error) {
	return readBounded(ctx, r.timeout, func(ctx context.Context) (Mode, error) {
		out, err := exec.CommandContext(ctx, "sh", "-c", r.command).Output()
		if err != nil {
			return NoFocus, fmt.Errorf("run %q: %w", r.command, err)
		}
		return Mode(strings.TrimSpace(string(out))), nil
	})
}

// StaticReader always reports the same mode.
type StaticReader struct {
	mode Mode
}

func NewStaticReader(mode Mode) StaticReader {
	return StaticReader{mode: mode}
}

func (r StaticReader) CurrentMode(context.Context) (Mode, error) {
	return r.mode, nil
}
