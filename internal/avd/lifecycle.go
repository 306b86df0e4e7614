// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultName is the AVD name every ephemeral device is created under. Only one
// orchestration may use a given name at a time; callers serialise runs.
const DefaultName = "avdrun-ephemeral"

var validName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Descriptor describes the device to provision.
type Descriptor struct {
	Name       string   `json:"name"`
	DeviceType string   `json:"device_type"`
	Package    string   `json:"package"`
	Skin       string   `json:"skin,omitempty"`
	WipeData   bool     `json:"wipe_data,omitempty"`
	ExtraArgs  []string `json:"extra_args,omitempty"`
}

// Validate reports ErrInvalidInput for a descriptor the SDK tools would reject.
func (d Descriptor) Validate() error {
	if d.Name == "" || !validName.MatchString(d.Name) {
		return fmt.Errorf("%w: AVD name %q", ErrInvalidInput, d.Name)
	}
	if d.DeviceType == "" {
		return fmt.Errorf("%w: device type is required", ErrInvalidInput)
	}
	if d.Package == "" {
		return fmt.Errorf("%w: system image package is required", ErrInvalidInput)
	}
	return nil
}

// State is the lifecycle position of the managed device.
type State int

const (
	StateAbsent State = iota
	StateImageBuilt
	StateLaunched
	StateBooting
	StateReady
	StateInUse
	StateShuttingDown
	StateStopped
)

var stateNames = [...]string{"Absent", "ImageBuilt", "Launched", "Booting", "Ready", "InUse", "ShuttingDown", "Stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Stages are the steps the Orchestrator composes. *Host implements them
// against the real SDK tools.
type Stages interface {
	BuildImage(ctx context.Context, d Descriptor) error
	Launch(ctx context.Context, d Descriptor) (Endpoint, error)
	AwaitReady(ctx context.Context, ep Endpoint) error
	Shutdown(ctx context.Context, ep Endpoint) error
	DeleteImage(ctx context.Context, name string) error
}

var _ Stages = (*Host)(nil)

// Orchestrator runs build, launch, boot, work and teardown for one device per
// call. It holds no per-run state. Concurrent runs need distinct AVD names and
// Stages that serialise port allocation until the new emulator is listed.
type Orchestrator struct {
	env     Env
	stages  Stages
	metrics Metrics
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMetrics records transitions and stage timings on m. A nil m keeps the no-op sink.
func WithMetrics(m Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// NewOrchestrator returns an Orchestrator driving stages with a no-op metrics sink by default.
func NewOrchestrator(env Env, stages Stages, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{env: env, stages: stages, metrics: NewNoopMetrics()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Do is Run for work that produces no value.
func (o *Orchestrator) Do(ctx context.Context, d Descriptor, work func(context.Context, Endpoint) error) error {
	_, err := Run(ctx, o, d, func(ctx context.Context, ep Endpoint) (struct{}, error) {
		return struct{}{}, work(ctx, ep)
	})
	return err
}

// Run provisions the device described by d, hands its endpoint to work and
// returns work's result.
//
// Once the image is built, shutdown (if an emulator was launched) and image
// deletion run exactly once on every exit path, including a failed launch or
// boot, a failing or panicking work unit, and cancellation of ctx. The first
// failure is reported first; teardown failures are joined after it.
func Run[T any](ctx context.Context, o *Orchestrator, d Descriptor, work func(context.Context, Endpoint) (T, error)) (result T, err error) {
	if ctx == nil {
		ctx = spanContext(o.env)
	}
	if d.Name == "" {
		d.Name = DefaultName
	}
	if err := d.Validate(); err != nil {
		return result, err
	}
	ctx, span := startSpan(ctx, o.env, "avd.Run",
		attribute.String("name", d.Name),
		attribute.String("device_type", d.DeviceType),
		attribute.String("package", d.Package),
	)
	defer span.End()

	lc := &lifecycle{o: o, name: d.Name}
	if err := lc.stage(ctx, StageBuild, func(ctx context.Context) error { return o.stages.BuildImage(ctx, d) }); err != nil {
		recordSpanError(span, err)
		return result, err
	}
	lc.transition(StateImageBuilt)

	var ep Endpoint
	launched := false
	defer func() {
		if tdErr := lc.teardown(context.WithoutCancel(ctx), ep, launched); tdErr != nil {
			err = errors.Join(err, tdErr)
		}
		recordSpanError(span, err)
	}()

	err = lc.stage(ctx, StageLaunch, func(ctx context.Context) error {
		var launchErr error
		ep, launchErr = o.stages.Launch(ctx, d)
		return launchErr
	})
	if err != nil {
		return result, err
	}
	launched = true
	span.SetAttributes(attribute.String("serial", ep.Serial), attribute.Int("port", ep.Port))
	lc.transition(StateLaunched)

	lc.transition(StateBooting)
	if err = lc.stage(ctx, StageBoot, func(ctx context.Context) error { return o.stages.AwaitReady(ctx, ep) }); err != nil {
		return result, err
	}
	lc.transition(StateReady)

	lc.transition(StateInUse)
	start := time.Now()
	result, workErr := work(ctx, ep)
	if workErr != nil {
		err = &StageError{Stage: StageWork, Err: fmt.Errorf("%w: %w", ErrWorkUnitFailed, workErr)}
	}
	o.metrics.StageDuration(StageWork, time.Since(start), err)
	if err != nil {
		lc.report(StageWork, err)
		return result, err
	}
	return result, nil
}

type lifecycle struct {
	o     *Orchestrator
	name  string
	state State
}

func (lc *lifecycle) transition(to State) {
	from := lc.state
	lc.state = to
	lc.o.metrics.StateTransition(from, to)
	logEventLevel(lc.o.env, slog.LevelDebug, "lifecycle transition", "name", lc.name, "from", from.String(), "to", to.String())
}

// stage runs fn, timing it and wrapping a failure in a StageError.
func (lc *lifecycle) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	lc.o.metrics.StageDuration(stage, time.Since(start), err)
	if err == nil {
		return nil
	}
	err = &StageError{Stage: stage, Err: err}
	lc.report(stage, err)
	return err
}

func (lc *lifecycle) report(stage Stage, err error) {
	logEventLevel(lc.o.env, slog.LevelError, "lifecycle stage failed",
		"name", lc.name,
		"stage", string(stage),
		"state", lc.state.String(),
		"error", err.Error(),
	)
}

// teardown stops the emulator when one was launched and then deletes the
// image, whatever the shutdown outcome.
func (lc *lifecycle) teardown(ctx context.Context, ep Endpoint, launched bool) error {
	var errs []error
	if launched {
		lc.transition(StateShuttingDown)
		if err := lc.stage(ctx, StageShutdown, func(ctx context.Context) error { return lc.o.stages.Shutdown(ctx, ep) }); err != nil {
			errs = append(errs, err)
		}
		lc.transition(StateStopped)
	}
	if err := lc.stage(ctx, StageDelete, func(ctx context.Context) error { return lc.o.stages.DeleteImage(ctx, lc.name) }); err != nil {
		errs = append(errs, err)
	}
	lc.transition(StateAbsent)
	return errors.Join(errs...)
}
