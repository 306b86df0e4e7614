// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/forkbombeu/avdrun/internal/avd"
	"github.com/forkbombeu/avdrun/internal/config"
)

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &levelVar}))
	slog.SetDefault(logger)
	avd.SetLogger(logger.With("component", "avd"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	root := newRootCommand(logger, &levelVar)
	err = root.ExecuteContext(ctx)
	shutdownTracing(context.Background())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	logger     *slog.Logger
	configPath string
	cfg        *config.Config
	env        avd.Env
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	a := &app{logger: logger}
	var logLevel string

	root := &cobra.Command{
		Use:           "avdrun",
		Short:         "Run commands against throwaway Android emulators",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $HOME/.avdrun/avdrun.yaml or ./avdrun.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log verbosity (debug, info, warning, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
		if logLevel == "" {
			logLevel = cfg.LogLevel
		}
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		levelVar.Set(level)

		a.env = cfg.Apply(avd.Detect())
		if a.env.CorrelationID == "" {
			a.env.CorrelationID = uuid.NewString()
		}
		a.env.Context = cmd.Context()
		a.env = a.env.WithDefaults()
		a.logger = logger.With("correlation_id", a.env.CorrelationID)
		return nil
	}

	root.AddCommand(
		newRunCommand(a),
		newCreateCommand(a),
		newDeleteCommand(a),
		newListCommand(a),
		newPsCommand(a),
		newStopCommand(a),
		newNextPortCommand(a),
	)
	return root
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}
