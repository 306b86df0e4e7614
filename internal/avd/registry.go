// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// DeviceEntry is one line of `adb devices`.
type DeviceEntry struct {
	Serial string `json:"serial"`
	State  string `json:"state"`
}

// ParseDevices reads the output of `adb devices` in printed order.
func ParseDevices(out string) []DeviceEntry {
	var entries []DeviceEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 2 {
			continue
		}
		entries = append(entries, DeviceEntry{Serial: f[0], State: f[1]})
	}
	return entries
}

// Devices lists the attached adb transports.
func (h *Host) Devices(ctx context.Context) ([]DeviceEntry, error) {
	out, err := h.adb(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return ParseDevices(out), nil
}

// LiveSerials returns the serials adb currently lists, in any state.
func (h *Host) LiveSerials(ctx context.Context) ([]string, error) {
	entries, err := h.Devices(ctx)
	if err != nil {
		return nil, err
	}
	serials := make([]string, 0, len(entries))
	for _, e := range entries {
		serials = append(serials, e.Serial)
	}
	return serials, nil
}

// LivePorts returns the sorted console ports of attached emulators. Serials
// that do not parse are skipped.
func (h *Host) LivePorts(ctx context.Context) ([]int, error) {
	serials, err := h.LiveSerials(ctx)
	if err != nil {
		return nil, err
	}
	return portsOf(serials), nil
}

func portsOf(serials []string) []int {
	var ports []int
	for _, s := range serials {
		if p, ok := ParseSerial(s); ok {
			ports = append(ports, p)
		}
	}
	slices.Sort(ports)
	return ports
}

// IsBooted reports whether sys.boot_completed reads exactly 1.
func (h *Host) IsBooted(ctx context.Context, ep Endpoint) (bool, error) {
	out, err := h.adb(ctx, "-s", ep.Serial, "shell", "getprop", "sys.boot_completed")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "1", nil
}

// WaitForAttach blocks until adb sees the endpoint at all, or ctx ends.
func (h *Host) WaitForAttach(ctx context.Context, ep Endpoint) error {
	ctx, span := startSpan(ctx, h.env, "avd.WaitForAttach", attribute.String("serial", ep.Serial))
	defer span.End()
	_, err := h.adb(ctx, "-s", ep.Serial, "wait-for-device")
	recordSpanError(span, err)
	return err
}
