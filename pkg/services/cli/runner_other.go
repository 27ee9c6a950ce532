//go:build !unix

package cli

import (
	"context"
	"time"
)

// ShellRunner is not available on this platform.
type ShellRunner struct {
	Shell       string
	GracePeriod time.Duration
}

// Run always fails with ErrUnsupported.
func (r *ShellRunner) Run(context.Context, string, int) ([]byte, error) {
	return nil, ErrUnsupported
}
