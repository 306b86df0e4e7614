// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

//go:build unix

package avd

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so terminal signals aimed at
// avdrun do not reach the emulator before teardown does.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
