// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"errors"
	"slices"

	"go.opentelemetry.io/otel/attribute"
)

// Shutdown asks the emulator behind ep to exit and waits until adb no longer
// lists it. A failing kill command does not stop the wait: the device may
// still go away on its own.
func (h *Host) Shutdown(ctx context.Context, ep Endpoint) error {
	timeout := h.env.ShutdownTimeout
	ctx, span := startSpan(ctx, h.env, "avd.Shutdown",
		attribute.String("serial", ep.Serial),
		attribute.Int("port", ep.Port),
	)
	defer span.End()
	logEvent(h.env, "emulator stop requested", "serial", ep.Serial, "port", ep.Port)

	_, killErr := h.adb(ctx, "-s", ep.Serial, "emu", "kill")
	if killErr != nil {
		logWarn(h.env, "emu kill failed", "serial", ep.Serial, "error", killErr.Error())
	}

	deadline := h.clock.Now().Add(timeout)
	err := Poll(h.clock, h.env.ShutdownPollInterval, timeout, func() (bool, error) {
		serials, err := h.LiveSerials(ctx)
		if err != nil {
			return false, nil
		}
		return !slices.Contains(serials, ep.Serial), nil
	})
	if errors.Is(err, errPollDeadline) {
		err = &TimeoutError{Kind: ErrDeviceShutdownTimeout, Serial: ep.Serial, Timeout: timeout, Deadline: deadline, Detail: "device still listed by adb"}
		err = errors.Join(err, killErr)
		recordSpanError(span, err)
		logWarn(h.env, "emulator stop timeout", "serial", ep.Serial, "timeout", timeout.String())
		return err
	}
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	span.SetAttributes(attribute.Bool("stopped", true))
	logEvent(h.env, "emulator stopped", "serial", ep.Serial, "port", ep.Port)
	return nil
}
