// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/forkbombeu/avdrun/internal/avd"
	"github.com/forkbombeu/avdrun/internal/config"
	"github.com/forkbombeu/avdrun/internal/devset"
)

type deviceResult struct {
	Device   devset.Device
	Serial   string
	Duration time.Duration
	Err      error
}

func newRunCommand(a *app) *cobra.Command {
	var (
		devicesPath     string
		name            string
		wipeData        bool
		headless        bool
		metricsTextfile string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Run COMMAND once per device against a freshly built and booted emulator",
		Long: `For every device in the set, build an AVD, boot it on the next free port,
run COMMAND with ANDROID_SERIAL pointing at it, then stop the emulator and
delete the AVD. Devices run one after another.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := loadDevices(devicesPath, a.cfg)
			if err != nil {
				return err
			}
			env := a.env
			env.Headless = env.Headless || headless

			metrics := avd.NewPrometheusMetrics("")
			orch := avd.NewOrchestrator(env, avd.NewHost(env), avd.WithMetrics(metrics))

			ctx := cmd.Context()
			results := runDevices(ctx, orch, devices, name, wipeData, func(ctx context.Context, ep avd.Endpoint, d devset.Device) error {
				return runWork(ctx, args, ep, d)
			})

			fmt.Fprint(cmd.OutOrStdout(), renderSummary(results))
			if metricsTextfile != "" {
				if err := metrics.WriteTextfile(metricsTextfile); err != nil {
					a.logger.Warn("metrics textfile not written", "path", metricsTextfile, "error", err)
				}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return failures(results)
		},
	}

	cmd.Flags().StringVar(&devicesPath, "devices", "", "device set file (YAML or JSON); defaults to the devices list in the config file")
	cmd.Flags().StringVar(&name, "name", avd.DefaultName, "AVD name used for every device")
	cmd.Flags().BoolVar(&wipeData, "wipe-data", false, "launch with -wipe-data")
	cmd.Flags().BoolVar(&headless, "headless", false, "launch with -no-window")
	cmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file when done")
	return cmd
}

// loadDevices prefers an explicit device file over the config's inline list.
func loadDevices(path string, cfg *config.Config) ([]devset.Device, error) {
	if path != "" {
		return devset.Load(path)
	}
	if cfg == nil || cfg.Devices == nil {
		return nil, fmt.Errorf("%w: no device set given (use --devices or a devices list in the config)", avd.ErrInvalidInput)
	}
	return devset.Parse(cfg.Devices, cfg.Screenshot)
}

type workFunc func(ctx context.Context, ep avd.Endpoint, d devset.Device) error

// runDevices orchestrates the devices one at a time, stopping early once ctx
// is done.
func runDevices(ctx context.Context, orch *avd.Orchestrator, devices []devset.Device, name string, wipeData bool, work workFunc) []deviceResult {
	results := make([]deviceResult, 0, len(devices))
	for _, d := range devices {
		if ctx.Err() != nil {
			break
		}
		desc := d.Descriptor(name)
		desc.WipeData = wipeData

		res := deviceResult{Device: d}
		start := time.Now()
		res.Err = orch.Do(ctx, desc, func(ctx context.Context, ep avd.Endpoint) error {
			res.Serial = ep.Serial
			return work(ctx, ep, d)
		})
		res.Duration = time.Since(start)
		results = append(results, res)
	}
	return results
}

func runWork(ctx context.Context, argv []string, ep avd.Endpoint, d devset.Device) error {
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Env = append(os.Environ(), workEnviron(ep, d)...)
	if err := c.Run(); err != nil {
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

func workEnviron(ep avd.Endpoint, d devset.Device) []string {
	return append([]string{"ANDROID_SERIAL=" + ep.Serial}, d.Environ()...)
}

func failures(results []deviceResult) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Device, r.Err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d devices failed: %w", len(errs), len(results), errors.Join(errs...))
}
