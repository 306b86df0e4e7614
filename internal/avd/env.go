// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"time"
)

// SDKRootVars lists the environment variables consulted, in order, to locate
// the Android SDK.
var SDKRootVars = []string{"ANDROID_SDK_ROOT", "ANDROID_HOME", "ANDROID_SDK"}

const (
	DefaultBootTimeout          = 3 * time.Minute
	DefaultBootPollInterval     = 500 * time.Millisecond
	DefaultShutdownTimeout      = time.Minute
	DefaultShutdownPollInterval = time.Second
	DefaultStorageSize          = "512M"
)

type Env struct {
	SDKRoot    string // ANDROID_SDK_ROOT | ANDROID_HOME | ANDROID_SDK
	AVDHome    string // ANDROID_AVD_HOME (default ~/.android/avd)
	Emulator   string // emulator
	ADB        string // adb
	AvdMgr     string // avdmanager
	SdkManager string // sdkmanager

	// StorageSize is the sdcard partition size handed to avdmanager.
	StorageSize string
	// Headless adds -no-window to every launch.
	Headless bool

	BootTimeout          time.Duration
	BootPollInterval     time.Duration
	ShutdownTimeout      time.Duration
	ShutdownPollInterval time.Duration

	// CorrelationID is used to tie logs to a specific run.
	CorrelationID string
	// Context is used to parent OpenTelemetry spans.
	Context context.Context
}

func Detect() Env {
	usr, _ := user.Current()
	home := ""
	if usr != nil {
		home = usr.HomeDir
	} else if h := os.Getenv("HOME"); h != "" {
		home = h
	}

	sdk := ""
	for _, k := range SDKRootVars {
		if v := os.Getenv(k); v != "" {
			sdk = v
			break
		}
	}
	env := Env{
		SDKRoot:              sdk,
		AVDHome:              getenv("ANDROID_AVD_HOME", filepath.Join(home, ".android", "avd")),
		StorageSize:          DefaultStorageSize,
		BootTimeout:          DefaultBootTimeout,
		BootPollInterval:     DefaultBootPollInterval,
		ShutdownTimeout:      DefaultShutdownTimeout,
		ShutdownPollInterval: DefaultShutdownPollInterval,
		CorrelationID:        os.Getenv("AVDRUN_CORRELATION_ID"),
		Context:              context.Background(),
	}
	env.Emulator, env.ADB, env.AvdMgr, env.SdkManager = ToolPaths(sdk)
	return env
}

// ToolPaths computes default binary locations under an SDK root. Without a
// root the bare names are returned and resolved through $PATH.
func ToolPaths(sdkRoot string) (emulator, adb, avdmanager, sdkmanager string) {
	if sdkRoot == "" {
		return "emulator", "adb", "avdmanager", "sdkmanager"
	}
	bin := filepath.Join(sdkRoot, "cmdline-tools", "latest", "bin")
	if _, err := os.Stat(bin); err != nil {
		legacy := filepath.Join(sdkRoot, "tools", "bin")
		if _, err := os.Stat(legacy); err == nil {
			bin = legacy
		}
	}
	return filepath.Join(sdkRoot, "emulator", "emulator"),
		filepath.Join(sdkRoot, "platform-tools", "adb"),
		filepath.Join(bin, "avdmanager"),
		filepath.Join(bin, "sdkmanager")
}

// WithDefaults fills zero timeouts, intervals and tool names.
func (env Env) WithDefaults() Env {
	if env.BootTimeout <= 0 {
		env.BootTimeout = DefaultBootTimeout
	}
	if env.BootPollInterval <= 0 {
		env.BootPollInterval = DefaultBootPollInterval
	}
	if env.ShutdownTimeout <= 0 {
		env.ShutdownTimeout = DefaultShutdownTimeout
	}
	if env.ShutdownPollInterval <= 0 {
		env.ShutdownPollInterval = DefaultShutdownPollInterval
	}
	if env.StorageSize == "" {
		env.StorageSize = DefaultStorageSize
	}
	emu, adb, avdmgr, sdkmgr := ToolPaths(env.SDKRoot)
	if env.Emulator == "" {
		env.Emulator = emu
	}
	if env.ADB == "" {
		env.ADB = adb
	}
	if env.AvdMgr == "" {
		env.AvdMgr = avdmgr
	}
	if env.SdkManager == "" {
		env.SdkManager = sdkmgr
	}
	if env.Context == nil {
		env.Context = context.Background()
	}
	return env
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
