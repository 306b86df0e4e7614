// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

/*
Package avdmanager runs work against throwaway Android Virtual Devices (AVDs).

# Overview

Every orchestration builds an AVD from a system image, launches the emulator on
the next free console port, waits until Android reports boot completion, hands
the device's adb serial to a caller-supplied work unit and then shuts the
emulator down and deletes the AVD. Teardown runs on every exit path once the
image exists: failed launch, boot timeout, failing or panicking work, and
cancellation of the caller's context.

# Quick Start

	import "github.com/forkbombeu/avdrun/pkg/avdmanager"

	func main() {
		mgr := avdmanager.New()

		err := mgr.RunEphemeral(ctx, avdmanager.DeviceOptions{
			DeviceType: "Nexus 5X",
			Package:    "system-images;android-29;default;x86",
		}, func(ctx context.Context, ep avdmanager.Endpoint) error {
			// ep.Serial is e.g. "emulator-5554"
			return takeScreenshots(ctx, ep.Serial)
		})
	}

# Errors

Failures match the exported sentinels with errors.Is: ErrImageCreationFailed,
ErrDeviceBootTimeout, ErrWorkUnitFailed (which also matches the work unit's own
error), ErrDeviceShutdownTimeout, ErrExternalCommandFailed, ErrPortExhausted
and ErrInvalidInput. The first failure comes first; teardown failures are
joined after it.

# Ports

The console port is the lowest legal port (5554) when no emulator is attached,
otherwise two above the highest attached one. Allocation and launch are not
atomic, so concurrent orchestrations on one host must be serialised by the
caller, and they must not share an AVD name.

# Environment Configuration

By default, the manager auto-detects paths from environment variables:
- ANDROID_SDK_ROOT, ANDROID_HOME or ANDROID_SDK
- ANDROID_AVD_HOME
- AVDRUN_CORRELATION_ID

Use NewWithEnv() to override with custom paths and timeouts.

# Thread Safety

Manager instances are not thread-safe. Create separate instances for concurrent use,
or synchronize access with a mutex.

# Requirements

- Android SDK with emulator, adb, avdmanager, sdkmanager
- KVM for hardware acceleration (Linux)

# License

AGPL-3.0-only

Copyright (C) 2025 Forkbomb B.V.
*/
package avdmanager
