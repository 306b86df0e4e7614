// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

// emulatorArgs builds the emulator command line for d on port.
func emulatorArgs(env Env, d Descriptor, port int) []string {
	args := []string{"-avd", d.Name, "-port", strconv.Itoa(port)}
	if d.WipeData {
		args = append(args, "-wipe-data")
	}
	if d.Skin != "" {
		args = append(args, "-skin", d.Skin)
	}
	args = append(args, "-no-snapshot-save", "-gpu", "auto")
	if env.Headless {
		args = append(args, "-no-window")
	}
	return append(args, d.ExtraArgs...)
}

// Launch allocates the next console port from a fresh registry snapshot and
// starts the emulator for d detached on it. The endpoint is derived from the
// requested port; the emulator is trusted to bind it.
func (h *Host) Launch(ctx context.Context, d Descriptor) (Endpoint, error) {
	ctx, span := startSpan(ctx, h.env, "avd.Launch", attribute.String("name", d.Name))
	defer span.End()

	live, err := h.LivePorts(ctx)
	if err != nil {
		recordSpanError(span, err)
		return Endpoint{}, fmt.Errorf("read live ports: %w", err)
	}
	port := NextPort(live)
	if err := ValidPort(port); err != nil {
		recordSpanError(span, err)
		return Endpoint{}, err
	}
	ep := NewEndpoint(port)
	span.SetAttributes(attribute.Int("port", port), attribute.String("serial", ep.Serial))
	logEvent(h.env, "emulator start requested", "name", d.Name, "port", port, "live_ports", fmt.Sprint(live))

	proc, err := h.runner.Start(ctx, Command{
		Bin:     h.env.Emulator,
		Args:    emulatorArgs(h.env, d, port),
		Env:     []string{"ADB_VENDOR_KEYS=/dev/null"},
		LogName: fmt.Sprintf("emulator-%s-%d", d.Name, port),
	})
	if err != nil {
		recordSpanError(span, err)
		logWarn(h.env, "emulator start failed", "name", d.Name, "port", port, "error", err.Error())
		return Endpoint{}, fmt.Errorf("emulator start: %w", err)
	}
	span.SetAttributes(attribute.Int("pid", proc.PID), attribute.String("log_path", proc.LogPath))
	logEvent(h.env, "emulator started",
		"name", d.Name,
		"port", port,
		"serial", ep.Serial,
		"pid", proc.PID,
		"log_path", proc.LogPath,
	)
	return ep, nil
}
