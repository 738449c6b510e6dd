// Package executor runs chip-tool as a fresh, short-lived subprocess per
// command. Each invocation gets its own process: there is no persistent
// chip-tool REPL, so a failed or hung command can never corrupt the state
// of an unrelated one (see the design notes on avoiding session state
// bleed).
package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/bdobrica/matterbridge/common/retry"
)

const (
	sigtermGrace = 5 * time.Second
	busySignal   = "Resource is busy"
)

// Config controls how the Executor bounds and retries chip-tool
// invocations.
type Config struct {
	ChipToolPath   string
	MaxConcurrent  int           // default 10
	CommandTimeout time.Duration // per-invocation wall clock budget
}

// Executor runs chip-tool commands, bounding how many run concurrently and
// retrying the specific "device busy" failure chip-tool reports when two
// commands race for the same CASE session.
type Executor struct {
	cfg Config
	sem chan struct{}
}

// New returns an Executor with cfg's concurrency bound in effect
// immediately.
func New(cfg Config) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Executor{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Result is the raw outcome of one chip-tool invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes "chip-tool <args...>" to completion, retrying automatically
// on a detected "Resource is busy" condition (up to 3 attempts total, 50ms
// initial backoff, doubling), and enforces cfg.CommandTimeout by sending
// SIGTERM and, if the process hasn't exited within sigtermGrace, SIGKILL.
func (e *Executor) Run(ctx context.Context, args []string) (Result, error) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	var result Result
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		ShouldRetry: func(err error) bool {
			return strings.Contains(result.Stdout, busySignal) || strings.Contains(result.Stderr, busySignal)
		},
	}, func() error {
		r, err := e.runOnce(ctx, args)
		result = r
		if err == nil && (strings.Contains(r.Stdout, busySignal) || strings.Contains(r.Stderr, busySignal)) {
			return fmt.Errorf("executor: chip-tool reported %q", busySignal)
		}
		return err
	})
	return result, err
}

func (e *Executor) runOnce(ctx context.Context, args []string) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.CommandTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.CommandTimeout)
		defer cancel()
	}

	cmd := exec.Command(e.cfg.ChipToolPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("executor: start chip-tool: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return resultFrom(stdout.String(), stderr.String(), cmd, err)
	case <-runCtx.Done():
		slog.Warn("executor: command timed out, sending SIGTERM", "args", args)
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err := <-waitErr:
			return resultFrom(stdout.String(), stderr.String(), cmd, err)
		case <-time.After(sigtermGrace):
			slog.Warn("executor: SIGTERM grace period elapsed, sending SIGKILL", "args", args)
			_ = cmd.Process.Kill()
			err := <-waitErr
			return resultFrom(stdout.String(), stderr.String(), cmd, err)
		}
	}
}

func resultFrom(stdout, stderr string, cmd *exec.Cmd, waitErr error) (Result, error) {
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	result := Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); ok {
			return result, fmt.Errorf("executor: chip-tool exited with status %d: %w", exitCode, waitErr)
		}
		return result, fmt.Errorf("executor: chip-tool: %w", waitErr)
	}
	return result, nil
}
