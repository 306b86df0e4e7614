// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrImageCreationFailed   = errors.New("image creation failed")
	ErrDeviceBootTimeout     = errors.New("device boot timeout")
	ErrWorkUnitFailed        = errors.New("work unit failed")
	ErrDeviceShutdownTimeout = errors.New("device shutdown timeout")
	ErrExternalCommandFailed = errors.New("external command failed")
	ErrPortExhausted         = errors.New("no legal emulator port left")
)

// CommandError reports a non-zero exit (or spawn failure) of an SDK tool.
type CommandError struct {
	Bin    string
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s failed: %v", e.Bin, strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *CommandError) Unwrap() []error { return []error{ErrExternalCommandFailed, e.Err} }

// TimeoutError is returned by the boot and shutdown waiters. Kind is either
// ErrDeviceBootTimeout or ErrDeviceShutdownTimeout.
type TimeoutError struct {
	Kind     error
	Serial   string
	Timeout  time.Duration
	Deadline time.Time
	Detail   string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%v: %s after %s (deadline %s)",
		e.Kind, e.Serial, e.Timeout, e.Deadline.UTC().Format(time.RFC3339))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Kind }

// Stage names the lifecycle step an error came from.
type Stage string

const (
	StageBuild    Stage = "build"
	StageLaunch   Stage = "launch"
	StageBoot     Stage = "boot"
	StageWork     Stage = "work"
	StageShutdown Stage = "shutdown"
	StageDelete   Stage = "delete"
)

type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage of the first StageError in err's tree.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
