package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultSettingsPath  = "settings.yaml"
	defaultCheckInterval = time.Hour
	defaultStartupGrace  = time.Minute
	defaultBindHost      = "127.0.0.1"
	defaultAPIPort       = 8127
	defaultLogLevel      = "info"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	SettingsPath  string        `mapstructure:"settings-path"`
	CheckInterval time.Duration `mapstructure:"check-interval"`
	StartupGrace  time.Duration `mapstructure:"startup-grace"`
	APIEnabled    bool          `mapstructure:"api-enabled"`
	APIPort       int           `mapstructure:"api-port"`
	APIAddr       string        `mapstructure:"api-addr"`
	LogLevel      string        `mapstructure:"log-level"`
	LogFile       string        `mapstructure:"log-file"`
	ConfigPath    string        `mapstructure:"-"` // not from config file
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
