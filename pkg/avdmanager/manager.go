// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package avdmanager provides a Go library for running work against ephemeral
// Android Virtual Devices (AVDs).
package avdmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/forkbombeu/avdrun/internal/avd"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Errors returned by Manager operations, for use with errors.Is.
var (
	ErrInvalidInput          = avd.ErrInvalidInput
	ErrImageCreationFailed   = avd.ErrImageCreationFailed
	ErrDeviceBootTimeout     = avd.ErrDeviceBootTimeout
	ErrWorkUnitFailed        = avd.ErrWorkUnitFailed
	ErrDeviceShutdownTimeout = avd.ErrDeviceShutdownTimeout
	ErrExternalCommandFailed = avd.ErrExternalCommandFailed
	ErrPortExhausted         = avd.ErrPortExhausted
)

// DefaultName is the AVD name used when DeviceOptions.Name is empty.
const DefaultName = avd.DefaultName

// Manager provides high-level AVD operations. It is not safe for concurrent
// orchestrations: port allocation and the shared AVD name must be serialised
// by the caller.
type Manager struct {
	env     avd.Env
	host    *avd.Host
	metrics avd.Metrics
}

// New creates a new AVD Manager with auto-detected environment.
func New() *Manager {
	return newManager(avd.Detect())
}

// NewWithCorrelationID creates a new AVD Manager with a correlation ID for structured logs.
func NewWithCorrelationID(correlationID string) *Manager {
	return NewWithContextAndCorrelationID(context.Background(), correlationID)
}

// NewWithContext creates a new AVD Manager with a custom context for tracing.
func NewWithContext(ctx context.Context) *Manager {
	return NewWithContextAndCorrelationID(ctx, "")
}

// NewWithContextAndCorrelationID creates a new AVD Manager with a custom context and correlation ID.
func NewWithContextAndCorrelationID(ctx context.Context, correlationID string) *Manager {
	env := avd.Detect()
	if ctx == nil {
		ctx = context.Background()
	}
	env.Context = ctx
	env.CorrelationID = correlationID
	return newManager(env)
}

// NewWithEnv creates a new AVD Manager with custom environment configuration.
// Empty fields fall back to the SDK layout under SDKRoot and the default
// timeouts.
func NewWithEnv(env Environment) *Manager {
	ctx := env.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return newManager(avd.Env{
		SDKRoot:              env.SDKRoot,
		AVDHome:              env.AVDHome,
		Emulator:             env.EmulatorBin,
		ADB:                  env.ADBBin,
		AvdMgr:               env.AvdManagerBin,
		SdkManager:           env.SdkManagerBin,
		StorageSize:          env.StorageSize,
		Headless:             env.Headless,
		BootTimeout:          env.BootTimeout,
		BootPollInterval:     env.BootPollInterval,
		ShutdownTimeout:      env.ShutdownTimeout,
		ShutdownPollInterval: env.ShutdownPollInterval,
		CorrelationID:        env.CorrelationID,
		Context:              ctx,
	})
}

func newManager(env avd.Env) *Manager {
	host := avd.NewHost(env)
	return &Manager{env: host.Env(), host: host, metrics: avd.NewNoopMetrics()}
}

// Environment holds configuration for AVD tools and paths.
type Environment struct {
	SDKRoot              string          // ANDROID_SDK_ROOT
	AVDHome              string          // ANDROID_AVD_HOME (default ~/.android/avd)
	EmulatorBin          string          // Path to emulator binary
	ADBBin               string          // Path to adb binary
	AvdManagerBin        string          // Path to avdmanager binary
	SdkManagerBin        string          // Path to sdkmanager binary
	StorageSize          string          // sdcard size, e.g. "512M" (default)
	Headless             bool            // Launch with -no-window
	BootTimeout          time.Duration   // default 3m
	BootPollInterval     time.Duration   // default 500ms
	ShutdownTimeout      time.Duration   // default 1m
	ShutdownPollInterval time.Duration   // default 1s
	CorrelationID        string          // Correlation ID for log enrichment
	Context              context.Context // Context for tracing
}

// DeviceOptions describes the ephemeral device to provision.
type DeviceOptions struct {
	Name       string   // AVD name (default DefaultName)
	DeviceType string   // Device profile, e.g. "Nexus 5X" (required)
	Package    string   // System image, e.g. "system-images;android-29;default;x86" (required)
	Skin       string   // Emulator skin (optional)
	WipeData   bool     // Launch with -wipe-data
	ExtraArgs  []string // Appended to the emulator command line
}

func (o DeviceOptions) descriptor() avd.Descriptor {
	return avd.Descriptor{
		Name:       o.Name,
		DeviceType: o.DeviceType,
		Package:    o.Package,
		Skin:       o.Skin,
		WipeData:   o.WipeData,
		ExtraArgs:  o.ExtraArgs,
	}
}

// Endpoint identifies a booted device.
type Endpoint struct {
	Serial string // adb serial, e.g. emulator-5554
	Port   int    // Console port
}

// AVDInfo contains information about an AVD.
type AVDInfo struct {
	Name      string // AVD name
	Path      string // Path to .avd directory
	Userdata  string // Path to userdata file
	SizeBytes int64  // Size of userdata in bytes
}

// ProcessInfo contains information about a running emulator.
type ProcessInfo struct {
	Serial string // Emulator serial (e.g., emulator-5580)
	Name   string // AVD name
	Port   int    // Console port
	PID    int    // Process ID
	Booted bool   // Whether Android has fully booted
}

// EnablePrometheus records lifecycle metrics on a new registry under
// namespace and returns it.
func (m *Manager) EnablePrometheus(namespace string) *prometheus.Registry {
	pm := avd.NewPrometheusMetrics(namespace)
	m.metrics = pm
	return pm.Registry()
}

// RunEphemeral builds the device, boots it, runs work against it and tears it
// down again, whatever work returns.
func (m *Manager) RunEphemeral(ctx context.Context, opts DeviceOptions, work func(context.Context, Endpoint) error) error {
	_, err := Run(ctx, m, opts, func(ctx context.Context, ep Endpoint) (struct{}, error) {
		return struct{}{}, work(ctx, ep)
	})
	return err
}

// Run is RunEphemeral for work that produces a value.
func Run[T any](ctx context.Context, m *Manager, opts DeviceOptions, work func(context.Context, Endpoint) (T, error)) (T, error) {
	if ctx == nil {
		ctx = m.env.Context
	}
	orch := avd.NewOrchestrator(m.env, m.host, avd.WithMetrics(m.metrics))
	return avd.Run(ctx, orch, opts.descriptor(), func(ctx context.Context, ep avd.Endpoint) (T, error) {
		return work(ctx, Endpoint{Serial: ep.Serial, Port: ep.Port})
	})
}

// Create builds an AVD without launching it. Auto-installs the system image if missing.
func (m *Manager) Create(opts DeviceOptions) error {
	d := opts.descriptor()
	if d.Name == "" {
		d.Name = DefaultName
	}
	return m.host.BuildImage(m.env.Context, d)
}

// List returns all AVDs under ANDROID_AVD_HOME.
func (m *Manager) List() ([]AVDInfo, error) {
	infos, err := m.host.ListImages()
	if err != nil {
		return nil, err
	}
	result := make([]AVDInfo, len(infos))
	for i, info := range infos {
		result[i] = AVDInfo{
			Name:      info.Name,
			Path:      info.Path,
			Userdata:  info.Userdata,
			SizeBytes: info.SizeBytes,
		}
	}
	return result, nil
}

// ListRunning returns all currently running emulator instances.
func (m *Manager) ListRunning() ([]ProcessInfo, error) {
	procs, err := m.host.ListRunning(m.env.Context)
	if err != nil {
		return nil, err
	}
	result := make([]ProcessInfo, len(procs))
	for i, p := range procs {
		result[i] = ProcessInfo{
			Serial: p.Serial,
			Name:   p.Name,
			Port:   p.Port,
			PID:    p.PID,
			Booted: p.Booted,
		}
	}
	return result, nil
}

// Stop stops a running emulator by serial (e.g., "emulator-5580") and waits
// until adb no longer lists it.
func (m *Manager) Stop(serial string) (err error) {
	ctx, span := m.startSpan("avdmanager.Stop", attribute.String("serial", serial))
	defer func() { endSpan(span, err) }()
	port, ok := avd.ParseSerial(serial)
	if !ok {
		return fmt.Errorf("%w: %q is not an emulator serial", ErrInvalidInput, serial)
	}
	return m.host.Shutdown(ctx, avd.NewEndpoint(port))
}

// StopByName stops a running emulator by AVD name.
func (m *Manager) StopByName(name string) error {
	procs, err := m.ListRunning()
	if err != nil {
		return err
	}
	for _, p := range procs {
		if p.Name == name {
			return m.Stop(p.Serial)
		}
	}
	return nil // Not running
}

// Delete removes an AVD through avdmanager.
func (m *Manager) Delete(name string) error {
	return m.host.DeleteImage(m.env.Context, name)
}

// WaitForBoot waits until the emulator behind serial reports boot completion.
func (m *Manager) WaitForBoot(serial string) error {
	port, ok := avd.ParseSerial(serial)
	if !ok {
		return fmt.Errorf("%w: %q is not an emulator serial", ErrInvalidInput, serial)
	}
	return m.host.AwaitReady(m.env.Context, avd.NewEndpoint(port))
}

// NextPort reports the console port the next launch would use.
func (m *Manager) NextPort() (port int, err error) {
	ctx, span := m.startSpan("avdmanager.NextPort")
	defer func() { endSpan(span, err) }()
	live, err := m.host.LivePorts(ctx)
	if err != nil {
		return 0, err
	}
	port = avd.NextPort(live)
	if err = avd.ValidPort(port); err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("port", port))
	return port, nil
}

func (m *Manager) startSpan(name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx := m.env.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if m.env.CorrelationID != "" {
		attrs = append(attrs, attribute.String("correlation_id", m.env.CorrelationID))
	}
	return otel.Tracer("avdrun/avdmanager").Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
