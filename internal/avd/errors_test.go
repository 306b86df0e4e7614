package avd

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCommandErrorMatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &CommandError{Bin: "avdmanager", Args: []string{"delete", "avd"}, Output: "Error: no such AVD\n", Err: cause}

	if !errors.Is(err, ErrExternalCommandFailed) {
		t.Fatal("expected ErrExternalCommandFailed")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	msg := err.Error()
	if !strings.Contains(msg, "avdmanager delete avd failed") {
		t.Fatalf("message lacks command line: %q", msg)
	}
	if !strings.Contains(msg, "no such AVD") {
		t.Fatalf("message lacks output: %q", msg)
	}
}

func TestTimeoutErrorNamesEndpointAndDeadline(t *testing.T) {
	deadline := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := &TimeoutError{Kind: ErrDeviceBootTimeout, Serial: "emulator-5554", Timeout: time.Second, Deadline: deadline}

	if !errors.Is(err, ErrDeviceBootTimeout) {
		t.Fatal("expected ErrDeviceBootTimeout")
	}
	if errors.Is(err, ErrDeviceShutdownTimeout) {
		t.Fatal("boot timeout must not match shutdown timeout")
	}
	msg := err.Error()
	for _, want := range []string{"emulator-5554", "1s", "2026-01-02T03:04:05Z"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q lacks %q", msg, want)
		}
	}
}

func TestFailedStage(t *testing.T) {
	err := errors.Join(&StageError{Stage: StageBoot, Err: ErrDeviceBootTimeout}, errors.New("teardown noise"))
	stage, ok := FailedStage(err)
	if !ok || stage != StageBoot {
		t.Fatalf("expected boot stage, got %q (%v)", stage, ok)
	}
	if _, ok := FailedStage(errors.New("plain")); ok {
		t.Fatal("plain errors carry no stage")
	}
}
