package cli

import (
	"bytes"
	"context"
	"time"
)

// Runner executes one command line. Output beyond limit bytes is dropped.
type Runner interface {
	Run(ctx context.Context, command string, limit int) ([]byte, error)
}

// limitedBuffer keeps the first limit bytes written to it and discards
// the rest without failing the writer.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

// result is the outcome of a finished command.
type result struct {
	output []byte
	err    error
}

// Worker runs one command on its own goroutine. The step loop polls it
// with Result and never blocks on it.
type Worker struct {
	cancel context.CancelFunc
	done   chan struct{}
	res    result
}

// StartWorker runs command with runner until it finishes or timeout
// passes.
func StartWorker(runner Runner, command string, limit int, timeout time.Duration) *Worker {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	w := &Worker{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		defer cancel()
		out, err := runner.Run(ctx, command, limit)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			err = ErrCommandTimeout
		}
		w.res = result{output: out, err: err}
	}()
	return w
}

// Result returns the command result once the worker finished. done is
// false while the command is still running.
func (w *Worker) Result() (output []byte, done bool, err error) {
	select {
	case <-w.done:
		return w.res.output, true, w.res.err
	default:
		return nil, false, nil
	}
}

// Done is closed when the command finished.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stop requests termination. It does not wait.
func (w *Worker) Stop() {
	w.cancel()
}
