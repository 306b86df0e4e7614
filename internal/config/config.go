// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package config manages avdrun configuration
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forkbombeu/avdrun/internal/avd"
	"github.com/spf13/viper"
)

// Config holds the avdrun configuration
type Config struct {
	SDKRoot     string         `mapstructure:"sdk_root"`
	AVDHome     string         `mapstructure:"avd_home"`
	Tools       ToolsConfig    `mapstructure:"tools"`
	StorageSize string         `mapstructure:"storage_size"`
	Headless    bool           `mapstructure:"headless"`
	Boot        WaitConfig     `mapstructure:"boot"`
	Shutdown    WaitConfig     `mapstructure:"shutdown"`
	LogLevel    string         `mapstructure:"log_level"`
	Devices     []any          `mapstructure:"devices"`
	Screenshot  map[string]any `mapstructure:"screenshot"`
}

// ToolsConfig overrides individual SDK tool paths
type ToolsConfig struct {
	Emulator   string `mapstructure:"emulator"`
	ADB        string `mapstructure:"adb"`
	AVDManager string `mapstructure:"avdmanager"`
	SDKManager string `mapstructure:"sdkmanager"`
}

// WaitConfig bounds one of the polling waits
type WaitConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load reads avdrun.yaml from path, or from $HOME/.avdrun and the working
// directory when path is empty. A missing default file is not an error.
// AVDRUN_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("avdrun")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.avdrun")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AVDRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("sdk_root", "")
	v.SetDefault("avd_home", "")
	v.SetDefault("tools.emulator", "")
	v.SetDefault("tools.adb", "")
	v.SetDefault("tools.avdmanager", "")
	v.SetDefault("tools.sdkmanager", "")
	v.SetDefault("storage_size", avd.DefaultStorageSize)
	v.SetDefault("headless", false)
	v.SetDefault("boot.timeout", avd.DefaultBootTimeout)
	v.SetDefault("boot.poll_interval", avd.DefaultBootPollInterval)
	v.SetDefault("shutdown.timeout", avd.DefaultShutdownTimeout)
	v.SetDefault("shutdown.poll_interval", avd.DefaultShutdownPollInterval)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Apply overlays the configured values onto env. Zero values leave env alone.
func (c *Config) Apply(env avd.Env) avd.Env {
	if c.SDKRoot != "" {
		env.SDKRoot = c.SDKRoot
		env.Emulator, env.ADB, env.AvdMgr, env.SdkManager = avd.ToolPaths(c.SDKRoot)
	}
	if c.AVDHome != "" {
		env.AVDHome = c.AVDHome
	}
	if c.Tools.Emulator != "" {
		env.Emulator = c.Tools.Emulator
	}
	if c.Tools.ADB != "" {
		env.ADB = c.Tools.ADB
	}
	if c.Tools.AVDManager != "" {
		env.AvdMgr = c.Tools.AVDManager
	}
	if c.Tools.SDKManager != "" {
		env.SdkManager = c.Tools.SDKManager
	}
	if c.StorageSize != "" {
		env.StorageSize = c.StorageSize
	}
	env.Headless = env.Headless || c.Headless
	if c.Boot.Timeout > 0 {
		env.BootTimeout = c.Boot.Timeout
	}
	if c.Boot.PollInterval > 0 {
		env.BootPollInterval = c.Boot.PollInterval
	}
	if c.Shutdown.Timeout > 0 {
		env.ShutdownTimeout = c.Shutdown.Timeout
	}
	if c.Shutdown.PollInterval > 0 {
		env.ShutdownPollInterval = c.Shutdown.PollInterval
	}
	return env
}
