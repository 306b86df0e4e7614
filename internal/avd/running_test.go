package avd

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"
)

func TestAVDNameTrimsConsoleOK(t *testing.T) {
	h := NewHost(fakeEnv(), WithRunner(newFakeSDK("emulator-5554")))
	name, err := h.AVDName(context.Background(), NewEndpoint(5554))
	if err != nil {
		t.Fatalf("avd name: %v", err)
	}
	if name != DefaultName {
		t.Fatalf("expected %s, got %q", DefaultName, name)
	}
}

func TestListRunningReportsEmulatorsOnly(t *testing.T) {
	sdk := newFakeSDK("emulator-5554", "R58M123ABC")
	h := NewHost(fakeEnv(), WithRunner(sdk))

	procs, err := h.ListRunning(context.Background())
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(procs) != 1 {
		t.Fatalf("expected 1 emulator, got %#v", procs)
	}
	p := procs[0]
	if p.Serial != "emulator-5554" || p.Port != 5554 || p.Name != DefaultName || !p.Booted || p.State != "device" {
		t.Fatalf("unexpected proc %#v", p)
	}
}

func TestFindEmulatorFromProc(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}
	proc := startDummyEmulator(t, "orphan-proc", 5590)
	defer stopDummyProcess(proc)

	var pid int
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pid = findEmulatorPID(5590); pid != 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if pid != proc.Pid {
		t.Fatalf("expected pid %d, got %d", proc.Pid, pid)
	}
	if name := findEmulatorNameFromPID(pid); name != "orphan-proc" {
		t.Fatalf("expected orphan-proc, got %q", name)
	}
	if findEmulatorPID(5592) != 0 {
		t.Fatal("unexpected match on another port")
	}
}

func startDummyEmulator(t *testing.T, name string, port int) *os.Process {
	t.Helper()
	emuPath := filepath.Join(t.TempDir(), "emulator")
	script := "#!/bin/sh\ntrap 'exit 0' INT TERM\nwhile true; do sleep 1; done\n"
	if err := os.WriteFile(emuPath, []byte(script), 0o755); err != nil {
		t.Fatalf("write emulator stub: %v", err)
	}
	cmd := exec.Command(emuPath, "-avd", name, "-port", strconv.Itoa(port))
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		t.Fatalf("start dummy emulator: %v", err)
	}
	return cmd.Process
}

func stopDummyProcess(proc *os.Process) {
	if proc == nil {
		return
	}
	_ = proc.Signal(os.Interrupt)
	_, _ = proc.Wait()
}
