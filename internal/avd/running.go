// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ProcInfo struct {
	Serial string `json:"serial"`
	Name   string `json:"name"`
	Port   int    `json:"port"`
	PID    int    `json:"pid"`
	State  string `json:"state"`
	Booted bool   `json:"booted"`
}

// ListRunning reports every attached emulator with its AVD name, pid and boot
// status. Non-emulator transports are ignored.
func (h *Host) ListRunning(ctx context.Context) ([]ProcInfo, error) {
	ctx, span := startSpan(ctx, h.env, "avd.ListRunning")
	defer span.End()
	entries, err := h.Devices(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	var procs []ProcInfo
	for _, e := range entries {
		port, ok := ParseSerial(e.Serial)
		if !ok {
			continue
		}
		ep := NewEndpoint(port)
		name, _ := h.AVDName(ctx, ep)
		pid := findEmulatorPID(port)
		if name == "" && pid > 0 {
			name = findEmulatorNameFromPID(pid)
		}
		booted := false
		if e.State == "device" {
			booted, _ = h.IsBooted(ctx, ep)
		}
		procs = append(procs, ProcInfo{Serial: ep.Serial, Name: name, Port: port, PID: pid, State: e.State, Booted: booted})
	}
	return procs, nil
}

// AVDName asks the emulator console for the AVD name.
func (h *Host) AVDName(ctx context.Context, ep Endpoint) (string, error) {
	out, err := h.adb(ctx, "-s", ep.Serial, "emu", "avd", "name")
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > 1 && strings.TrimSpace(lines[len(lines)-1]) == "OK" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(lines[0]), nil
}

// findEmulatorPID is best effort and Linux-only: it looks for "-port <port>"
// in the cmdline of an emulator or qemu-system process.
func findEmulatorPID(port int) int {
	entries, _ := filepath.Glob("/proc/[0-9]*/cmdline")
	needle := []byte(fmt.Sprintf("-port%c%d%c", 0, port, 0))
	for _, p := range entries {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if !bytes.Contains(append(b, 0), needle) {
			continue
		}
		if !bytes.Contains(b, []byte("qemu-system")) && !bytes.Contains(b, []byte("emulator")) {
			continue
		}
		if n, err := strconv.Atoi(filepath.Base(filepath.Dir(p))); err == nil {
			return n
		}
	}
	return 0
}

// findEmulatorNameFromPID extracts the AVD name from a process cmdline.
func findEmulatorNameFromPID(pid int) string {
	if pid == 0 {
		return ""
	}
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return ""
	}
	// cmdline is null-separated: [emulator, -avd, name, -port, ...]
	parts := bytes.Split(b, []byte{0})
	for i, part := range parts {
		if string(part) == "-avd" && i+1 < len(parts) {
			return string(parts[i+1])
		}
	}
	return ""
}
