package avd

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

// recordingStages records the order in which the orchestrator calls it.
type recordingStages struct {
	mu    sync.Mutex
	calls []string
	names []string

	ep Endpoint

	buildErr, launchErr, bootErr, shutdownErr, deleteErr error

	teardownCtxErr error
}

func newRecordingStages() *recordingStages {
	return &recordingStages{ep: NewEndpoint(5554)}
}

func (s *recordingStages) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingStages) BuildImage(_ context.Context, d Descriptor) error {
	s.record("build")
	s.names = append(s.names, d.Name)
	return s.buildErr
}

func (s *recordingStages) Launch(context.Context, Descriptor) (Endpoint, error) {
	s.record("launch")
	if s.launchErr != nil {
		return Endpoint{}, s.launchErr
	}
	return s.ep, nil
}

func (s *recordingStages) AwaitReady(context.Context, Endpoint) error {
	s.record("boot")
	return s.bootErr
}

func (s *recordingStages) Shutdown(ctx context.Context, ep Endpoint) error {
	s.record("shutdown:" + ep.Serial)
	s.teardownCtxErr = ctx.Err()
	return s.shutdownErr
}

func (s *recordingStages) DeleteImage(ctx context.Context, name string) error {
	s.record("delete:" + name)
	if s.teardownCtxErr == nil {
		s.teardownCtxErr = ctx.Err()
	}
	return s.deleteErr
}

func (s *recordingStages) sequence() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

var testDescriptor = Descriptor{DeviceType: "Nexus 5X", Package: "system-images;android-29;default;x86"}

func newTestOrchestrator(t *testing.T, stages Stages, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	captureLogs(t)
	return NewOrchestrator(fakeEnv(), stages, opts...)
}

func TestRunSuccessReturnsWorkResult(t *testing.T) {
	stages := newRecordingStages()
	o := newTestOrchestrator(t, stages)

	calls := 0
	got, err := Run(context.Background(), o, testDescriptor, func(_ context.Context, ep Endpoint) (string, error) {
		calls++
		return "ran on " + ep.Serial, nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got != "ran on emulator-5554" {
		t.Fatalf("unexpected result %q", got)
	}
	if calls != 1 {
		t.Fatalf("work ran %d times", calls)
	}
	want := []string{"build", "launch", "boot", "shutdown:emulator-5554", "delete:" + DefaultName}
	if seq := stages.sequence(); !reflect.DeepEqual(seq, want) {
		t.Fatalf("sequence = %v, want %v", seq, want)
	}
	if stages.names[0] != DefaultName {
		t.Fatalf("expected default name, got %q", stages.names[0])
	}
}

func TestRunKeepsExplicitName(t *testing.T) {
	stages := newRecordingStages()
	o := newTestOrchestrator(t, stages)
	d := testDescriptor
	d.Name = "ci-pixel"
	if err := o.Do(context.Background(), d, func(context.Context, Endpoint) error { return nil }); err != nil {
		t.Fatalf("do: %v", err)
	}
	seq := stages.sequence()
	if seq[len(seq)-1] != "delete:ci-pixel" {
		t.Fatalf("expected delete of ci-pixel, got %v", seq)
	}
}

func TestRunWorkFailureTearsDownOnce(t *testing.T) {
	stages := newRecordingStages()
	o := newTestOrchestrator(t, stages)
	workErr := errors.New("screenshot mismatch")

	err := o.Do(context.Background(), testDescriptor, func(context.Context, Endpoint) error { return workErr })
	if !errors.Is(err, ErrWorkUnitFailed) || !errors.Is(err, workErr) {
		t.Fatalf("expected work failure, got %v", err)
	}
	if stage, _ := FailedStage(err); stage != StageWork {
		t.Fatalf("expected work stage, got %q", stage)
	}
	want := []string{"build", "launch", "boot", "shutdown:emulator-5554", "delete:" + DefaultName}
	if seq := stages.sequence(); !reflect.DeepEqual(seq, want) {
		t.Fatalf("sequence = %v, want %v", seq, want)
	}
}

func TestRunBuildFailureSkipsTeardown(t *testing.T) {
	stages := newRecordingStages()
	stages.buildErr = ErrImageCreationFailed
	o := newTestOrchestrator(t, stages)

	worked := false
	err := o.Do(context.Background(), testDescriptor, func(context.Context, Endpoint) error { worked = true; return nil })
	if !errors.Is(err, ErrImageCreationFailed) {
		t.Fatalf("expected ErrImageCreationFailed, got %v", err)
	}
	if stage, _ := FailedStage(err); stage != StageBuild {
		t.Fatalf("expected build stage, got %q", stage)
	}
	if worked {
		t.Fatal("work must not run")
	}
	if seq := stages.sequence(); !reflect.DeepEqual(seq, []string{"build"}) {
		t.Fatalf("sequence = %v", seq)
	}
}

func TestRunLaunchFailureDeletesWithoutShutdown(t *testing.T) {
	stages := newRecordingStages()
	stages.launchErr = ErrPortExhausted
	o := newTestOrchestrator(t, stages)

	err := o.Do(context.Background(), testDescriptor, func(context.Context, Endpoint) error { return nil })
	if !errors.Is(err, ErrPortExhausted) {
		t.Fatalf("expected ErrPortExhausted, got %v", err)
	}
	want := []string{"build", "launch", "delete:" + DefaultName}
	if seq := stages.sequence(); !reflect.DeepEqual(seq, want) {
		t.Fatalf("sequence = %v, want %v", seq, want)
	}
}

func TestRunBootTimeoutStillTearsDown(t *testing.T) {
	stages := newRecordingStages()
	stages.bootErr = &TimeoutError{Kind: ErrDeviceBootTimeout, Serial: "emulator-5554"}
	o := newTestOrchestrator(t, stages)

	worked := false
	err := o.Do(context.Background(), testDescriptor, func(context.Context, Endpoint) error { worked = true; return nil })
	if !errors.Is(err, ErrDeviceBootTimeout) {
		t.Fatalf("expected ErrDeviceBootTimeout, got %v", err)
	}
	if worked {
		t.Fatal("work must not run on a device that never booted")
	}
	want := []string{"build", "launch", "boot", "shutdown:emulator-5554", "delete:" + DefaultName}
	if seq := stages.sequence(); !reflect.DeepEqual(seq, want) {
		t.Fatalf("sequence = %v, want %v", seq, want)
	}
}

func TestRunShutdownFailureStillDeletes(t *testing.T) {
	stages := newRecordingStages()
	stages.shutdownErr = &TimeoutError{Kind: ErrDeviceShutdownTimeout, Serial: "emulator-5554"}
	o := newTestOrchestrator(t, stages)

	err := o.Do(context.Background(), testDescriptor, func(context.Context, Endpoint) error { return nil })
	if !errors.Is(err, ErrDeviceShutdownTimeout) {
		t.Fatalf("expected ErrDeviceShutdownTimeout, got %v", err)
	}
	if stage, _ := FailedStage(err); stage != StageShutdown {
		t.Fatalf("expected shutdown stage, got %q", stage)
	}
	seq := stages.sequence()
	if seq[len(seq)-1] != "delete:"+DefaultName {
		t.Fatalf("delete must follow a failed shutdown: %v", seq)
	}
}

func TestRunReportsFirstFailureFirst(t *testing.T) {
	stages := newRecordingStages()
	stages.deleteErr = ErrExternalCommandFailed
	o := newTestOrchestrator(t, stages)
	workErr := errors.New("boom")

	err := o.Do(context.Background(), testDescriptor, func(context.Context, Endpoint) error { return workErr })
	if stage, _ := FailedStage(err); stage != StageWork {
		t.Fatalf("expected the work failure first, got %q (%v)", stage, err)
	}
	if !errors.Is(err, ErrExternalCommandFailed) {
		t.Fatalf("teardown failure should be joined: %v", err)
	}
}

func TestRunPanickingWorkTearsDown(t *testing.T) {
	stages := newRecordingStages()
	o := newTestOrchestrator(t, stages)

	func() {
		defer func() {
			if r := recover(); r != "work exploded" {
				t.Fatalf("expected the panic to propagate, got %v", r)
			}
		}()
		_ = o.Do(context.Background(), testDescriptor, func(context.Context, Endpoint) error { panic("work exploded") })
	}()

	want := []string{"build", "launch", "boot", "shutdown:emulator-5554", "delete:" + DefaultName}
	if seq := stages.sequence(); !reflect.DeepEqual(seq, want) {
		t.Fatalf("sequence = %v, want %v", seq, want)
	}
}

func TestRunCancelledContextStillTearsDown(t *testing.T) {
	stages := newRecordingStages()
	o := newTestOrchestrator(t, stages)
	ctx, cancel := context.WithCancel(context.Background())

	err := o.Do(ctx, testDescriptor, func(ctx context.Context, _ Endpoint) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stages.teardownCtxErr != nil {
		t.Fatalf("teardown ran on a cancelled context: %v", stages.teardownCtxErr)
	}
	seq := stages.sequence()
	if seq[len(seq)-1] != "delete:"+DefaultName {
		t.Fatalf("teardown missing: %v", seq)
	}
}

func TestRunRejectsInvalidDescriptor(t *testing.T) {
	stages := newRecordingStages()
	o := newTestOrchestrator(t, stages)

	for _, d := range []Descriptor{
		{Package: "system-images;android-29;default;x86"},
		{DeviceType: "Nexus 5X"},
		{Name: "has space", DeviceType: "Nexus 5X", Package: "p"},
	} {
		if err := o.Do(context.Background(), d, func(context.Context, Endpoint) error { return nil }); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%+v: expected ErrInvalidInput, got %v", d, err)
		}
	}
	if seq := stages.sequence(); len(seq) != 0 {
		t.Fatalf("no stage may run: %v", seq)
	}
}

func TestStateString(t *testing.T) {
	if StateInUse.String() != "InUse" || StateAbsent.String() != "Absent" {
		t.Fatalf("unexpected names %s %s", StateInUse, StateAbsent)
	}
	if State(42).String() != "State(42)" {
		t.Fatalf("unexpected fallback %s", State(42))
	}
}

func TestRunAgainstHostTools(t *testing.T) {
	sdk := newFakeSDK()
	h := NewHost(fakeEnv(), WithRunner(sdk), WithClock(newFakeClock()))
	o := newTestOrchestrator(t, h)

	var seen Endpoint
	err := o.Do(context.Background(), Descriptor{DeviceType: "Nexus 5X", Package: "system-images;android-29;default;x86", Skin: "phone"},
		func(_ context.Context, ep Endpoint) error {
			seen = ep
			return nil
		})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if seen.Serial != "emulator-5554" {
		t.Fatalf("unexpected endpoint %+v", seen)
	}

	order := []string{
		"avdmanager create avd -n " + DefaultName,
		"start emulator -avd " + DefaultName + " -port 5554",
		"adb -s emulator-5554 shell getprop sys.boot_completed",
		"adb -s emulator-5554 emu kill",
		"avdmanager delete avd -n " + DefaultName,
	}
	last := -1
	for _, prefix := range order {
		i := sdk.indexOf(prefix)
		if i <= last {
			t.Fatalf("%q out of order in %v", prefix, sdk.commands())
		}
		last = i
	}
	if sdk.indexOf("start emulator -avd "+DefaultName+" -port 5554 -skin phone") < 0 {
		t.Fatalf("skin not passed: %v", sdk.commands())
	}
	if len(sdk.images) != 0 || len(sdk.live) != 0 {
		t.Fatalf("host not clean: images=%v live=%v", sdk.images, sdk.live)
	}
}

func TestRunAgainstHostToolsBootTimeout(t *testing.T) {
	sdk := newFakeSDK()
	sdk.bootNever = true
	h := NewHost(fakeEnv(), WithRunner(sdk), WithClock(newFakeClock()))
	o := newTestOrchestrator(t, h)

	worked := false
	err := o.Do(context.Background(), testDescriptor, func(context.Context, Endpoint) error { worked = true; return nil })
	if !errors.Is(err, ErrDeviceBootTimeout) {
		t.Fatalf("expected ErrDeviceBootTimeout, got %v", err)
	}
	if worked {
		t.Fatal("work must not run")
	}
	if sdk.count("avdmanager delete avd -n "+DefaultName) != 1 {
		t.Fatalf("image must be deleted exactly once: %v", sdk.commands())
	}
	if len(sdk.live) != 0 {
		t.Fatalf("emulator left running: %v", sdk.live)
	}
}
