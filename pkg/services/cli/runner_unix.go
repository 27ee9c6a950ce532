//go:build unix

package cli

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ShellRunner runs command lines with a shell in their own process group,
// so a timeout or teardown reaches every child the command spawned.
type ShellRunner struct {
	// Shell is the shell binary, resolved through PATH.
	// Default: "sh"
	Shell string

	// GracePeriod is the time between SIGTERM and SIGKILL on
	// cancellation. Zero kills immediately.
	GracePeriod time.Duration
}

// Run implements Runner. Standard output and standard error are combined
// and truncated to limit bytes.
func (r *ShellRunner) Run(ctx context.Context, command string, limit int) ([]byte, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	out := &limitedBuffer{limit: limit}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	grace := r.GracePeriod
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		if grace <= 0 {
			return unix.Kill(pgid, unix.SIGKILL)
		}
		if err := unix.Kill(pgid, unix.SIGTERM); err != nil {
			return unix.Kill(pgid, unix.SIGKILL)
		}
		go func() {
			time.Sleep(grace)
			_ = unix.Kill(pgid, unix.SIGKILL)
		}()
		return nil
	}
	// Children holding the output pipes open must not stall Wait.
	cmd.WaitDelay = grace + time.Second

	err := cmd.Run()
	if ctx.Err() != nil {
		return out.Bytes(), ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A failing command still produced a response.
		return out.Bytes(), nil
	}
	return out.Bytes(), err
}
