package avd

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestEmulatorArgs(t *testing.T) {
	env := Env{Headless: true}
	d := Descriptor{Name: "pixel", Skin: "1080x1920", WipeData: true, ExtraArgs: []string{"-no-audio"}}
	got := emulatorArgs(env, d, 5556)
	want := []string{"-avd", "pixel", "-port", "5556", "-wipe-data", "-skin", "1080x1920", "-no-snapshot-save", "-gpu", "auto", "-no-window", "-no-audio"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("emulatorArgs = %v, want %v", got, want)
	}

	got = emulatorArgs(Env{}, Descriptor{Name: "plain"}, 5554)
	want = []string{"-avd", "plain", "-port", "5554", "-no-snapshot-save", "-gpu", "auto"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("emulatorArgs = %v, want %v", got, want)
	}
}

func TestLaunchOnEmptyHostUsesMinPort(t *testing.T) {
	captureLogs(t)
	sdk := newFakeSDK()
	h := NewHost(fakeEnv(), WithRunner(sdk))

	ep, err := h.Launch(context.Background(), Descriptor{Name: DefaultName})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if ep.Port != 5554 || ep.Serial != "emulator-5554" {
		t.Fatalf("unexpected endpoint %+v", ep)
	}
	if sdk.indexOf("start emulator -avd avdrun-ephemeral -port 5554") < 0 {
		t.Fatalf("emulator not started: %v", sdk.commands())
	}
}

func TestLaunchPicksAboveHighestLivePort(t *testing.T) {
	captureLogs(t)
	sdk := newFakeSDK("emulator-5554", "emulator-5560", "R58M123ABC")
	h := NewHost(fakeEnv(), WithRunner(sdk))

	ep, err := h.Launch(context.Background(), Descriptor{Name: DefaultName})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if ep.Serial != "emulator-5562" {
		t.Fatalf("expected emulator-5562, got %s", ep.Serial)
	}
}

func TestLaunchPortExhausted(t *testing.T) {
	captureLogs(t)
	sdk := newFakeSDK(fmt.Sprintf("emulator-%d", MaxPort))
	h := NewHost(fakeEnv(), WithRunner(sdk))

	if _, err := h.Launch(context.Background(), Descriptor{Name: DefaultName}); !errors.Is(err, ErrPortExhausted) {
		t.Fatalf("expected ErrPortExhausted, got %v", err)
	}
	if sdk.count("start ") != 0 {
		t.Fatalf("emulator must not start: %v", sdk.commands())
	}
}

func TestLaunchSpawnFailure(t *testing.T) {
	captureLogs(t)
	sdk := newFakeSDK()
	sdk.startErr = errors.New("exec: \"emulator\": executable file not found in $PATH")
	h := NewHost(fakeEnv(), WithRunner(sdk))

	if _, err := h.Launch(context.Background(), Descriptor{Name: DefaultName}); !errors.Is(err, ErrExternalCommandFailed) {
		t.Fatalf("expected ErrExternalCommandFailed, got %v", err)
	}
}
