package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	resetLogtapEnv(t)

	configPath := writeTempConfig(t, "")
	cfg, err := loadConfig(configPath)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.SettingsPath != "settings.yaml" {
		t.Fatalf("SettingsPath = %q, want settings.yaml", cfg.SettingsPath)
	}
	if cfg.CheckInterval != time.Hour {
		t.Fatalf("CheckInterval = %s, want 1h", cfg.CheckInterval)
	}
	if cfg.StartupGrace != time.Minute {
		t.Fatalf("StartupGrace = %s, want 1m", cfg.StartupGrace)
	}
	if !cfg.APIEnabled {
		t.Fatal("APIEnabled should default to true")
	}
	if cfg.APIAddr != "127.0.0.1:8127" {
		t.Fatalf("APIAddr = %q, want 127.0.0.1:8127", cfg.APIAddr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.LogFile != "" {
		t.Fatalf("LogFile = %q, want empty", cfg.LogFile)
	}
	if cfg.ConfigPath != configPath {
		t.Fatalf("ConfigPath = %q, want %q", cfg.ConfigPath, configPath)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	resetLogtapEnv(t)

	tests := []struct {
		name         string
		configYAML   string
		wantErr      bool
		errSubstring string
		assert       func(t *testing.T, cfg appConfig)
	}{
		{
			name: "custom intervals accepted",
			configYAML: `
check-interval: 30m
startup-grace: 15s
`,
			assert: func(t *testing.T, cfg appConfig) {
				t.Helper()
				if cfg.CheckInterval != 30*time.Minute {
					t.Fatalf("CheckInterval = %s, want 30m", cfg.CheckInterval)
				}
				if cfg.StartupGrace != 15*time.Second {
					t.Fatalf("StartupGrace = %s, want 15s", cfg.StartupGrace)
				}
			},
		},
		{
			name: "explicit api addr overrides derived one",
			configYAML: `
api-port: 3000
api-addr: 10.0.0.5:8888
`,
			assert: func(t *testing.T, cfg appConfig) {
				t.Helper()
				if cfg.APIAddr != "10.0.0.5:8888" {
					t.Fatalf("APIAddr = %q, want 10.0.0.5:8888", cfg.APIAddr)
				}
			},
		},
		{
			name: "empty settings path rejected",
			configYAML: `
settings-path: ""
`,
			wantErr:      true,
			errSubstring: "settings-path",
		},
		{
			name: "zero check interval rejected",
			configYAML: `
check-interval: 0s
`,
			wantErr:      true,
			errSubstring: "invalid check-interval",
		},
		{
			name: "negative startup grace rejected",
			configYAML: `
startup-grace: -10s
`,
			wantErr:      true,
			errSubstring: "invalid startup-grace",
		},
		{
			name: "api port out of range rejected",
			configYAML: `
api-port: 70000
`,
			wantErr:      true,
			errSubstring: "invalid api-port",
		},
		{
			name: "unknown log level rejected",
			configYAML: `
log-level: noisy
`,
			wantErr:      true,
			errSubstring: "unknown log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeTempConfig(t, tt.configYAML)
			cfg, err := loadConfig(configPath)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errSubstring != "" && !strings.Contains(err.Error(), tt.errSubstring) {
					t.Fatalf("error = %q, want substring %q", err.Error(), tt.errSubstring)
				}
				return
			}

			if err != nil {
				t.Fatalf("loadConfig returned error: %v", err)
			}
			if tt.assert != nil {
				tt.assert(t, cfg)
			}
		})
	}
}

func TestLoadConfig_ExpandsHomePaths(t *testing.T) {
	resetLogtapEnv(t)

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir: %v", err)
	}

	configPath := writeTempConfig(t, `
settings-path: ~/logtap/settings.yaml
log-file: ~/logtap/daemon.log
`)
	cfg, err := loadConfig(configPath)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if want := filepath.Join(home, "logtap", "settings.yaml"); cfg.SettingsPath != want {
		t.Fatalf("SettingsPath = %q, want %q", cfg.SettingsPath, want)
	}
	if want := filepath.Join(home, "logtap", "daemon.log"); cfg.LogFile != want {
		t.Fatalf("LogFile = %q, want %q", cfg.LogFile, want)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	resetLogtapEnv(t)
	t.Setenv("LOGTAP_CHECK_INTERVAL", "30m")
	t.Setenv("LOGTAP_API_ENABLED", "false")
	t.Setenv("LOGTAP_SETTINGS_PATH", "/etc/logtap/settings.yaml")

	cfg, err := loadConfig(writeTempConfig(t, ""))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	if cfg.CheckInterval != 30*time.Minute {
		t.Fatalf("CheckInterval = %s, want 30m", cfg.CheckInterval)
	}
	if cfg.APIEnabled {
		t.Fatal("APIEnabled should be overridden to false")
	}
	if cfg.SettingsPath != "/etc/logtap/settings.yaml" {
		t.Fatalf("SettingsPath = %q", cfg.SettingsPath)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "ERROR", want: slog.LevelError},
		{in: "noisy", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseLogLevel(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseLogLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestShortenPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir: %v", err)
	}

	inHome := filepath.Join(home, "logs", "app1.log")
	if got, want := shortenPath(inHome), "~"+string(os.PathSeparator)+filepath.Join("logs", "app1.log"); got != want {
		t.Errorf("shortenPath(%q) = %q, want %q", inHome, got, want)
	}
	if got := shortenPath("/var/log/capture"); got != "/var/log/capture" {
		t.Errorf("shortenPath outside home = %q, want unchanged", got)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func resetLogtapEnv(t *testing.T) {
	t.Helper()

	original := make(map[string]string)
	existed := make(map[string]bool)

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "LOGTAP_") {
			continue
		}
		original[key] = value
		existed[key] = true
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}

	t.Cleanup(func() {
		for key := range existed {
			if err := os.Unsetenv(key); err != nil {
				t.Fatalf("cleanup unset %s: %v", key, err)
			}
		}
		for key, value := range original {
			if err := os.Setenv(key, value); err != nil {
				t.Fatalf("cleanup restore %s: %v", key, err)
			}
		}
	})
}
