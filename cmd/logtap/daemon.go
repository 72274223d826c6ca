package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/logtap/internal/alert"
	"github.com/tinytelemetry/logtap/internal/capture"
	"github.com/tinytelemetry/logtap/internal/httpserver"
	"github.com/tinytelemetry/logtap/internal/settings"
	"github.com/tinytelemetry/logtap/internal/sink"
)

// runDaemon starts headless container log capture with the HTTP status API.
func runDaemon(cfg appConfig) error {
	logger, cleanupLogger, err := configureLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanupLogger()

	conf, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	sources, sinks, err := buildSources(conf, logger)
	if err != nil {
		return fmt.Errorf("failed to prepare log sinks: %w", err)
	}
	defer closeSinks(sinks, logger)

	var mailer alert.Mailer
	if conf.General.EmailAlerts {
		mailer = alert.NewSMTPMailer(alert.SMTPConfig{
			Host:     conf.Email.SMTP,
			Port:     conf.Email.SMTPPort,
			UseTLS:   conf.Email.UseTLS,
			Auth:     conf.Email.AuthenticationRequired,
			Username: conf.Email.Username,
			Password: conf.Email.Password,
			From:     conf.Email.FromEmail,
			To:       conf.Email.ToEmail,
		})
	}
	notifier := alert.NewNotifier(mailer, alert.Config{
		EmailAlerts:        conf.General.EmailAlerts,
		AlertProgramErrors: conf.General.AlertProgramErrors,
		RecheckInterval:    cfg.CheckInterval,
	}, logger)

	registry := capture.NewMemoryRegistry()
	supervisor := capture.NewSupervisor(registry, capture.DefaultCommand, cfg.StartupGrace, logger)
	status := newStatusStore(registry)

	// Start HTTP status API server if enabled
	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, status)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now — not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg, conf)

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	// Supervision loop
	g.Go(func() error {
		return runCycleLoop(gctx, cfg, supervisor, notifier, status, sources, logger)
	})

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	// Wait for either signal or a fatal supervision error. Capture workers
	// themselves are never cancelled; they die with the process.
	if err := g.Wait(); err != nil {
		return err
	}

	cancel()

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

// runCycleLoop drives supervision: one pass immediately at boot, then one
// per check interval. Passes never overlap; a slow pass delays the next
// tick instead.
func runCycleLoop(ctx context.Context, cfg appConfig, supervisor *capture.Supervisor, notifier *alert.Notifier, status *statusStore, sources []capture.SourceSpec, logger *slog.Logger) error {
	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		report, err := supervisor.RunCycle(ctx, sources)
		if err != nil {
			// Shutdown arrived mid-cycle. The partial report is not
			// published and no alerts fire for it.
			return nil
		}
		status.publish(report)
		logger.Info("supervision cycle complete",
			"cycle", report.Cycle,
			"sources", len(report.Records),
			"duration", report.FinishedAt.Sub(report.StartedAt).String())

		if err := notifier.Process(ctx, report); err != nil {
			return fmt.Errorf("cycle %d: %w", report.Cycle, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// buildSources opens one rotated sink per configured container and pairs
// it with the container's exclusion patterns. Already-opened sinks are
// closed when a later one fails.
func buildSources(conf *settings.Settings, logger *slog.Logger) ([]capture.SourceSpec, []*sink.RotatingSink, error) {
	sources := make([]capture.SourceSpec, 0, len(conf.Containers))
	sinks := make([]*sink.RotatingSink, 0, len(conf.Containers))

	for _, c := range conf.Containers {
		s, err := sink.Open(conf.General.CentralLogPath, c.ContainerName, c.LogName, c.MaxLogFileSize, true)
		if err != nil {
			closeSinks(sinks, logger)
			return nil, nil, fmt.Errorf("open sink for %s: %w", c.ContainerName, err)
		}
		sinks = append(sinks, s)
		sources = append(sources, capture.SourceSpec{
			Name:            c.ContainerName,
			Sink:            s,
			ExcludePatterns: []string(c.Exclude),
		})
	}
	return sources, sinks, nil
}

func closeSinks(sinks []*sink.RotatingSink, logger *slog.Logger) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Warn("closing sink", "source", s.Name(), "error", err)
		}
	}
}

// statusStore is the daemon's view of the latest completed cycle, shared
// with the HTTP API.
type statusStore struct {
	registry *capture.MemoryRegistry

	mu     sync.RWMutex
	report capture.Report
	has    bool
}

func newStatusStore(registry *capture.MemoryRegistry) *statusStore {
	return &statusStore{registry: registry}
}

func (s *statusStore) publish(report capture.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = report
	s.has = true
}

// Latest implements httpserver.Overview.
func (s *statusStore) Latest() (capture.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report, s.has
}

// Workers implements httpserver.Overview.
func (s *statusStore) Workers() []httpserver.WorkerInfo {
	handles := s.registry.Handles()
	workers := make([]httpserver.WorkerInfo, 0, len(handles))
	for _, h := range handles {
		workers = append(workers, httpserver.WorkerInfo{
			WorkerName: h.WorkerName(),
			SourceName: h.SourceName(),
			Live:       h.IsLive(),
		})
	}
	return workers
}

// configureLogger builds the daemon-wide slog logger: stderr always, plus
// an append-only file when log-file is set. The returned cleanup closes
// the file.
func configureLogger(cfg appConfig) (*slog.Logger, func(), error) {
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	out := io.Writer(os.Stderr)
	cleanup := func() {}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		cleanup = func() { _ = f.Close() }
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

func printStartupBanner(cfg appConfig, conf *settings.Settings) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╦  ╔═╗╔═╗╔╦╗╔═╗╔═╗
    ║  ║ ║║ ╦ ║ ╠═╣╠═╝
    ╩═╝╚═╝╚═╝ ╩ ╩ ╩╩`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Capture
	lines = append(lines, bold.Render("    Capture"))
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("    %s  Containers     %s", check, cyan.Render(strconv.Itoa(len(conf.Containers)))))
	lines = append(lines, fmt.Sprintf("    %s  Log Directory  %s", check, dim.Render(shortenPath(conf.General.CentralLogPath))))
	lines = append(lines, fmt.Sprintf("    %s  Check Interval %s", check, dim.Render(cfg.CheckInterval.String())))
	lines = append(lines, "")

	// Gateway
	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")

	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	// Alerting
	lines = append(lines, bold.Render("    Alerting"))
	lines = append(lines, "")

	if conf.General.EmailAlerts {
		lines = append(lines, fmt.Sprintf("    %s  Email Alerts   %s", check, cyan.Render(conf.Email.SMTP)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Email Alerts   %s", dot, dim.Render("disabled")))
	}
	if conf.General.EmailAlerts && conf.General.AlertProgramErrors {
		lines = append(lines, fmt.Sprintf("    %s  Error Details  %s", check, dim.Render("enabled")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Error Details  %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Settings File  %s", check, dim.Render(shortenPath(cfg.SettingsPath))))

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
