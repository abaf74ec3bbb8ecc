package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// maxStderr bounds how much decoder output is kept for error reports.
const maxStderr = 4 << 10

// ExtractionError reports that the decoder exited unsuccessfully.
// ExitCode is -1 when the process could not be started at all.
type ExtractionError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("frame extraction failed (exit code %d)", e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// safeCommand wraps exec.Cmd with a buffer that catches stderr so decoder
// diagnostics survive a crash.
type safeCommand struct {
	*exec.Cmd
	stderr *bytes.Buffer
}

func newSafeCommand(ctx context.Context, name string, args ...string) *safeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 5 * time.Second
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &safeCommand{Cmd: cmd, stderr: stderr}
}

// stderrTail returns the last maxStderr bytes of captured stderr, trimmed.
func (c *safeCommand) stderrTail() string {
	out := c.stderr.Bytes()
	if len(out) > maxStderr {
		out = out[len(out)-maxStderr:]
	}
	return strings.TrimSpace(string(out))
}

// run executes the command and maps failures to ExtractionError.
// A cancelled context is returned as the context error.
func (c *safeCommand) run(ctx context.Context) error {
	err := c.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExtractionError{ExitCode: exitErr.ExitCode(), Stderr: c.stderrTail(), Err: err}
	}
	return &ExtractionError{ExitCode: -1, Stderr: c.stderrTail(), Err: err}
}
