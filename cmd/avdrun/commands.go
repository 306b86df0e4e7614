// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/forkbombeu/avdrun/internal/avd"
)

func newCreateCommand(a *app) *cobra.Command {
	var name, pkg, device, skin string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an AVD (auto-installs system image if missing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if device == "" || pkg == "" {
				return errors.New("--device-type and --package are required")
			}
			d := avd.Descriptor{Name: name, DeviceType: device, Package: pkg, Skin: skin}
			if err := avd.NewHost(a.env).BuildImage(cmd.Context(), d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", avd.DefaultName, "AVD name")
	cmd.Flags().StringVar(&device, "device-type", "", "Device profile (e.g. \"Nexus 5X\")")
	cmd.Flags().StringVar(&pkg, "package", "", "System image ID (e.g. system-images;android-29;default;x86)")
	cmd.Flags().StringVar(&skin, "skin", "", "Emulator skin")
	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete an AVD through avdmanager",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return avd.NewHost(a.env).DeleteImage(cmd.Context(), args[0])
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List AVDs under ANDROID_AVD_HOME",
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := avd.NewHost(a.env).ListImages()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ls)
			}
			for _, i := range ls {
				fmt.Fprintf(out, "%-18s %s\n  userdata: %s (%s)\n", i.Name, i.Path, i.Userdata, units.HumanSize(float64(i.SizeBytes)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func newPsCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List running emulators with AVD name, serial, port, PID",
		RunE: func(cmd *cobra.Command, args []string) error {
			procs, err := avd.NewHost(a.env).ListRunning(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(procs)
			}
			if len(procs) == 0 {
				fmt.Fprintln(out, "(no emulators)")
				return nil
			}
			for _, p := range procs {
				state := "booting"
				if p.Booted {
					state = "ready"
				}
				fmt.Fprintf(out, "%-18s %-14s port=%-5d pid=%-7d %s\n", p.Name, p.Serial, p.Port, p.PID, state)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func newStopCommand(a *app) *cobra.Command {
	var serial string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running emulator by --serial and wait until adb drops it",
		RunE: func(cmd *cobra.Command, args []string) error {
			port, ok := avd.ParseSerial(serial)
			if !ok {
				return fmt.Errorf("%w: --serial must look like emulator-5554, got %q", avd.ErrInvalidInput, serial)
			}
			if err := avd.NewHost(a.env).Shutdown(cmd.Context(), avd.NewEndpoint(port)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", serial)
			return nil
		},
	}
	cmd.Flags().StringVar(&serial, "serial", "", "emulator serial (e.g., emulator-5582)")
	return cmd
}

func newNextPortCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next-port",
		Short: "Print the console port the next emulator would be launched on",
		RunE: func(cmd *cobra.Command, args []string) error {
			live, err := avd.NewHost(a.env).LivePorts(cmd.Context())
			if err != nil {
				return err
			}
			port := avd.NextPort(live)
			if err := avd.ValidPort(port); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), port)
			return nil
		},
	}
}
