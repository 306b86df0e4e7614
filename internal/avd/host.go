// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import "context"

// Host drives the SDK tools of one machine. It carries no device state; every
// query goes to the tools again.
type Host struct {
	env    Env
	runner Runner
	clock  Clock
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithRunner replaces the os/exec runner.
func WithRunner(r Runner) HostOption {
	return func(h *Host) { h.runner = r }
}

// WithClock replaces the wall clock used by the boot and shutdown waiters.
func WithClock(c Clock) HostOption {
	return func(h *Host) { h.clock = c }
}

// NewHost returns a Host for env with defaults filled in, using os/exec and the wall clock.
func NewHost(env Env, opts ...HostOption) *Host {
	env = env.WithDefaults()
	h := &Host{
		env:    env,
		runner: HostRunner{Env: env},
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) Env() Env { return h.env }

func (h *Host) run(ctx context.Context, bin string, args ...string) (string, error) {
	return h.runner.Run(ctx, Command{Bin: bin, Args: args})
}

func (h *Host) adb(ctx context.Context, args ...string) (string, error) {
	return h.run(ctx, h.env.ADB, args...)
}
