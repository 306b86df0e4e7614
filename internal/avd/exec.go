// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Command is a single invocation of an SDK tool.
type Command struct {
	Bin   string
	Args  []string
	Stdin string
	// Env is appended to the current process environment.
	Env []string
	// LogName names the log file of a started process (default: tool name).
	LogName string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Bin + " " + strings.Join(c.Args, " "))
}

// Process describes a detached process started by a Runner.
type Process struct {
	PID     int
	LogPath string
}

// Runner executes SDK commands. Run blocks until exit and returns stdout;
// Start spawns a detached process and returns as soon as it is running.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
	Start(ctx context.Context, cmd Command) (Process, error)
}

// HostRunner runs commands on the local host with os/exec.
type HostRunner struct {
	Env Env
}

func (r HostRunner) Run(ctx context.Context, c Command) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, c.Bin, c.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, newCommandLogWriter(r.Env, c.Bin, c.Args))
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return stdout.String(), &CommandError{
			Bin:    c.Bin,
			Args:   c.Args,
			Output: stdout.String() + stderr.String(),
			Err:    err,
		}
	}
	return stdout.String(), nil
}

// Start launches c detached from the caller: it gets its own process group and
// is not bound to ctx. Output goes to a log file in the temp dir and to the
// structured log.
func (r HostRunner) Start(_ context.Context, c Command) (Process, error) {
	name := c.LogName
	if name == "" {
		name = filepath.Base(c.Bin)
	}
	logPath := filepath.Join(os.TempDir(), name+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return Process{}, fmt.Errorf("open log: %w", err)
	}
	logWriter := newLineLogWriterWithMessage(r.Env, "process output", "command", c.Bin, "log_path", logPath)

	cmd := exec.Command(c.Bin, c.Args...)
	// one writer for both streams keeps os/exec to a single copying goroutine
	out := io.MultiWriter(logFile, logWriter)
	cmd.Stdout = out
	cmd.Stderr = out
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	detach(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return Process{}, &CommandError{Bin: c.Bin, Args: c.Args, Err: err}
	}
	go func() {
		_ = cmd.Wait()
		_ = logFile.Close()
	}()
	return Process{PID: cmd.Process.Pid, LogPath: logPath}, nil
}
