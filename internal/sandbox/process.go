package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"
)

// limitedBuffer keeps the first max bytes written and silently drops the
// rest so a chatty program cannot exhaust memory.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func (w *limitedBuffer) Write(p []byte) (int, error) {
	remaining := w.max - int64(w.buf.Len())
	if remaining <= 0 {
		w.truncated = len(p) > 0 || w.truncated
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *limitedBuffer) String() string {
	if w.truncated {
		return w.buf.String() + "\n[output truncated]"
	}
	return w.buf.String()
}

// process is one container CLI invocation. done is closed once the CLI
// has been collected; waitErr is valid after that.
type process struct {
	cmd     *exec.Cmd
	stdout  *limitedBuffer
	stderr  *limitedBuffer
	done    chan struct{}
	waitErr error

	// set by Engine.Shutdown before the process is killed
	shutdown atomic.Bool
}

func startProcess(bin string, args []string, maxOutput int64) (*process, error) {
	cmd := exec.Command(bin, args...)
	setProcessGroup(cmd)
	// bounds Wait if a killed CLI leaves grandchildren holding the pipes
	cmd.WaitDelay = 5 * time.Second

	p := &process{
		cmd:    cmd,
		stdout: &limitedBuffer{max: maxOutput},
		stderr: &limitedBuffer{max: maxOutput},
		done:   make(chan struct{}),
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", bin, err)
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// wait blocks until the process exits or ctx is done. On ctx expiry the
// process is left running; the caller kills and reaps it.
func (p *process) wait(ctx context.Context) (exitCode int, interrupted bool, err error) {
	select {
	case <-p.done:
		code, err := exitStatus(p.waitErr)
		return code, false, err
	case <-ctx.Done():
		return -1, true, nil
	}
}

func (p *process) kill() error {
	return killProcessGroup(p.cmd)
}

// reap waits for the already killed process to be collected.
func (p *process) reap() {
	<-p.done
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
