// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"go.opentelemetry.io/otel/attribute"
)

// minStorageBytes is the smallest sdcard mksdcard accepts.
const minStorageBytes = 9 * units.MiB

type Info struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Userdata  string `json:"userdata"`
	SizeBytes int64  `json:"size_bytes"`
}

// ListImages returns the AVDs present under AVDHome.
func (h *Host) ListImages() ([]Info, error) {
	_, span := startSpan(spanContext(h.env), h.env, "avd.ListImages")
	defer span.End()
	entries, err := os.ReadDir(h.env.AVDHome)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		recordSpanError(span, err)
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".avd") {
			continue
		}
		out = append(out, infoOf(h.env, strings.TrimSuffix(e.Name(), ".avd")))
	}
	return out, nil
}

func infoOf(env Env, name string) Info {
	dir := filepath.Join(env.AVDHome, name+".avd")
	ud := filepath.Join(dir, "userdata-qemu.img.qcow2")
	if _, err := os.Stat(ud); err != nil {
		alt := filepath.Join(dir, "userdata-qemu.img")
		if _, err2 := os.Stat(alt); err2 == nil {
			ud = alt
		} else {
			ud = filepath.Join(dir, "userdata.img")
		}
	}
	var sz int64
	if st, err := os.Stat(ud); err == nil {
		sz = st.Size()
	}
	return Info{Name: name, Path: dir, Userdata: ud, SizeBytes: sz}
}

// storageArg normalises a size such as "512 MB" or "1g" to avdmanager's
// megabyte form.
func storageArg(size string) (string, int64, error) {
	b, err := units.RAMInBytes(strings.ReplaceAll(size, " ", ""))
	if err != nil {
		return "", 0, fmt.Errorf("%w: storage size %q: %v", ErrInvalidInput, size, err)
	}
	if b < minStorageBytes {
		return "", 0, fmt.Errorf("%w: storage size %q below %s", ErrInvalidInput, size, units.BytesSize(minStorageBytes))
	}
	return fmt.Sprintf("%dM", b/units.MiB), b, nil
}

// sysImageDir maps "system-images;android-29;default;x86" to its install
// directory under the SDK root.
func sysImageDir(sdkRoot, pkg string) string {
	parts := strings.Split(pkg, ";")
	if sdkRoot == "" || len(parts) < 2 {
		return ""
	}
	return filepath.Join(append([]string{sdkRoot}, parts...)...)
}

// EnsurePackage installs pkg with sdkmanager unless it is already present.
func (h *Host) EnsurePackage(ctx context.Context, pkg string) error {
	ctx, span := startSpan(ctx, h.env, "avd.EnsurePackage", attribute.String("package", pkg))
	defer span.End()
	if dir := sysImageDir(h.env.SDKRoot, pkg); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			span.SetAttributes(attribute.Bool("installed", true))
			return nil
		}
	}
	logEvent(h.env, "installing system image", "package", pkg)
	// accept licenses if needed
	_, _ = h.runner.Run(ctx, Command{Bin: h.env.SdkManager, Args: []string{"--licenses"}, Stdin: strings.Repeat("y\n", 16)})
	if _, err := h.runner.Run(ctx, Command{Bin: h.env.SdkManager, Args: []string{pkg}, Stdin: "y\n"}); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

// BuildImage creates the AVD for d, overwriting any previous image of the same
// name. A partially created image is left for the next forced create.
func (h *Host) BuildImage(ctx context.Context, d Descriptor) error {
	ctx, span := startSpan(ctx, h.env, "avd.BuildImage",
		attribute.String("name", d.Name),
		attribute.String("device_type", d.DeviceType),
		attribute.String("package", d.Package),
	)
	defer span.End()
	if err := d.Validate(); err != nil {
		recordSpanError(span, err)
		return err
	}
	storage, storageBytes, err := storageArg(h.env.StorageSize)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := h.EnsurePackage(ctx, d.Package); err != nil {
		err = fmt.Errorf("%w: ensure system image %s: %w", ErrImageCreationFailed, d.Package, err)
		recordSpanError(span, err)
		return err
	}
	logEvent(h.env, "avd create start",
		"name", d.Name,
		"device_type", d.DeviceType,
		"package", d.Package,
		"storage", units.BytesSize(float64(storageBytes)),
	)
	_, err = h.runner.Run(ctx, Command{
		Bin: h.env.AvdMgr,
		Args: []string{"create", "avd",
			"-n", d.Name,
			"-k", d.Package,
			"-d", d.DeviceType,
			"-c", storage,
			"--force"},
		// decline the custom hardware profile prompt
		Stdin: "no\n",
	})
	if err != nil {
		err = fmt.Errorf("%w: avdmanager create %s: %w", ErrImageCreationFailed, d.Name, err)
		recordSpanError(span, err)
		return err
	}
	logEvent(h.env, "avd created", "name", d.Name)
	return nil
}

// DeleteImage removes the AVD. The tool's exit status is authoritative.
func (h *Host) DeleteImage(ctx context.Context, name string) error {
	ctx, span := startSpan(ctx, h.env, "avd.DeleteImage", attribute.String("name", name))
	defer span.End()
	if name == "" {
		err := fmt.Errorf("%w: empty AVD name", ErrInvalidInput)
		recordSpanError(span, err)
		return err
	}
	if _, err := h.run(ctx, h.env.AvdMgr, "delete", "avd", "-n", name); err != nil {
		recordSpanError(span, err)
		return err
	}
	logEvent(h.env, "avd deleted", "name", name)
	return nil
}
