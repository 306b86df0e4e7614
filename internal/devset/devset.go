// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package devset reads and validates the set of devices a run iterates over.
package devset

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/forkbombeu/avdrun/internal/avd"
	"gopkg.in/yaml.v3"
)

const (
	KeyDeviceType     = "device_type"
	KeyPackage        = "package"
	KeyScreenshotType = "screenshot_type"
	KeySkin           = "skin"
)

var requiredKeys = []string{KeyDeviceType, KeyPackage, KeyScreenshotType}

// Device is one validated entry of a device set. Options holds the shared
// screenshot options overlaid with the entry's own extra keys.
type Device struct {
	DeviceType     string         `json:"device_type"`
	Package        string         `json:"package"`
	ScreenshotType string         `json:"screenshot_type"`
	Skin           string         `json:"skin,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.DeviceType, d.Package, d.ScreenshotType)
}

// Descriptor maps the device onto an orchestration descriptor named name.
func (d Device) Descriptor(name string) avd.Descriptor {
	return avd.Descriptor{
		Name:       name,
		DeviceType: d.DeviceType,
		Package:    d.Package,
		Skin:       d.Skin,
	}
}

// Environ returns the variables a work command sees for this device, options
// sorted by key.
func (d Device) Environ() []string {
	env := []string{
		"AVDRUN_DEVICE_TYPE=" + d.DeviceType,
		"AVDRUN_PACKAGE=" + d.Package,
		"AVDRUN_SCREENSHOT_TYPE=" + d.ScreenshotType,
		"AVDRUN_SKIN=" + d.Skin,
	}
	for _, k := range slices.Sorted(maps.Keys(d.Options)) {
		env = append(env, "AVDRUN_OPT_"+envKey(k)+"="+fmt.Sprint(d.Options[k]))
	}
	return env
}

func envKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, k)
}

// Parse validates a decoded device set. raw must be a non-empty list of
// mappings, each carrying non-empty string values for device_type, package
// and screenshot_type. Nothing is returned unless every entry is valid.
func Parse(raw any, shared map[string]any) ([]Device, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: device set is empty", avd.ErrInvalidInput)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: device set must be a list, got %T", avd.ErrInvalidInput, raw)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: device set is empty", avd.ErrInvalidInput)
	}
	devices := make([]Device, 0, len(list))
	for i, item := range list {
		entry, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("%w: device %d must be a mapping, got %T", avd.ErrInvalidInput, i, item)
		}
		d, err := parseDevice(entry, shared)
		if err != nil {
			return nil, fmt.Errorf("%w: device %d: %v", avd.ErrInvalidInput, i, err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func parseDevice(entry, shared map[string]any) (Device, error) {
	values := map[string]string{}
	for _, key := range requiredKeys {
		v, present := entry[key]
		if !present {
			return Device{}, fmt.Errorf("missing required key %q", key)
		}
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return Device{}, fmt.Errorf("key %q must be a non-empty string", key)
		}
		values[key] = s
	}
	var skin string
	if v, present := entry[KeySkin]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			return Device{}, fmt.Errorf("key %q must be a string", KeySkin)
		}
		skin = s
	}

	options := maps.Clone(shared)
	for k, v := range entry {
		if k == KeySkin || slices.Contains(requiredKeys, k) {
			continue
		}
		if options == nil {
			options = map[string]any{}
		}
		options[k] = v
	}
	return Device{
		DeviceType:     values[KeyDeviceType],
		Package:        values[KeyPackage],
		ScreenshotType: values[KeyScreenshotType],
		Skin:           skin,
		Options:        options,
	}, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// Load reads a device set from a YAML (or JSON) file. The file is either a
// bare list of devices or a mapping with a devices list and an optional
// screenshot option mapping.
func Load(path string) ([]Device, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device set: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse device set %s: %v", avd.ErrInvalidInput, path, err)
	}
	if m, ok := asMap(doc); ok {
		var shared map[string]any
		if s, present := m["screenshot"]; present && s != nil {
			if shared, ok = asMap(s); !ok {
				return nil, fmt.Errorf("%w: screenshot options must be a mapping", avd.ErrInvalidInput)
			}
		}
		return Parse(m["devices"], shared)
	}
	return Parse(doc, nil)
}
