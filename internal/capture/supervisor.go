// Package capture implements the capture-worker supervisor: one streaming
// worker per source feeding an append-only line sink, a registry tracking
// worker liveness across supervision cycles, and per-source status records
// for the alerting layer.
//
// The supervisor never cancels a live worker. A worker runs until its
// stream ends or breaks; the next cycle notices the dead handle and spawns
// a replacement. Cycles are driven serially by a single caller, which is
// what makes the check-then-spawn sequence safe without a lock.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultStartupGrace bounds how long a cycle waits for a fresh worker to
// confirm its stream subprocess started.
const DefaultStartupGrace = time.Minute

// workerSuffix distinguishes worker names from raw source names in the
// registry and in operator-facing status output.
const workerSuffix = "_thread"

// WorkerName derives the registry key for a source name. Embedded spaces
// are normalized to underscores so the name is safe as a worker label.
func WorkerName(sourceName string) string {
	return strings.ReplaceAll(sourceName, " ", "_") + workerSuffix
}

// Supervisor reconciles configured sources against live capture workers,
// one cycle at a time.
type Supervisor struct {
	registry Registry
	command  CommandFunc
	grace    time.Duration
	logger   *slog.Logger

	cycle uint64
}

// NewSupervisor builds a supervisor around the given registry. A nil
// command falls back to DefaultCommand, a non-positive grace to
// DefaultStartupGrace.
func NewSupervisor(registry Registry, command CommandFunc, grace time.Duration, logger *slog.Logger) *Supervisor {
	if command == nil {
		command = DefaultCommand
	}
	if grace <= 0 {
		grace = DefaultStartupGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		registry: registry,
		command:  command,
		grace:    grace,
		logger:   logger,
	}
}

// RunCycle evaluates every source in order: a source with a live worker
// reports running; otherwise a fresh worker is spawned and the outcome
// reported as started or failed. Per-source failures never abort the
// cycle; the report always covers every source. The returned error is
// non-nil only when ctx ends mid-cycle, in which case the report covers
// the sources processed so far.
//
// RunCycle is not safe for concurrent use; the cycle driver serializes
// calls.
func (s *Supervisor) RunCycle(ctx context.Context, sources []SourceSpec) (Report, error) {
	s.cycle++
	report := Report{
		Cycle:     s.cycle,
		StartedAt: time.Now(),
		Records:   make([]StatusRecord, 0, len(sources)),
	}

	for _, source := range sources {
		record, err := s.superviseSource(ctx, source)
		if err != nil {
			report.FinishedAt = time.Now()
			return report, fmt.Errorf("cycle %d aborted: %w", s.cycle, err)
		}
		report.Records = append(report.Records, record)
	}

	report.FinishedAt = time.Now()
	return report, nil
}

// superviseSource runs the per-source state machine. The returned error is
// non-nil only on daemon shutdown; every capture failure is folded into
// the record instead.
func (s *Supervisor) superviseSource(ctx context.Context, source SourceSpec) (StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return StatusRecord{}, err
	}

	workerName := WorkerName(source.Name)
	record := StatusRecord{SourceName: source.Name, WorkerName: workerName}

	if s.registry.IsLive(workerName) {
		record.State = StateRunning
		return record, nil
	}

	if err := validateSpec(source); err != nil {
		record.State = StateFailed
		record.Failure = FailureSpawnOrStream
		record.Error = err.Error()
		s.logger.Warn("spawn rejected",
			"source", source.Name, "worker", workerName, "error", err)
		return record, nil
	}

	s.logger.Info("starting log capture",
		"source", source.Name, "worker", workerName)

	handle := newHandle(workerName, source.Name)
	s.registry.Register(workerName, handle)
	w := &worker{
		source:  source,
		handle:  handle,
		command: s.command,
		logger:  s.logger,
	}
	go w.run()

	state, terminalErr := s.awaitStartup(ctx, handle)
	if state == "" {
		return StatusRecord{}, terminalErr
	}

	record.State = state
	if terminalErr != nil {
		record.Failure = Classify(terminalErr)
		record.Error = terminalErr.Error()
		s.logger.Warn("capture worker failed",
			"source", source.Name,
			"worker", workerName,
			"category", string(record.Failure),
			"error", terminalErr)
	}
	return record, nil
}

// awaitStartup resolves the post-spawn status. A worker that confirms its
// stream subprocess is up reports started, even when a short finite stream
// already ended cleanly by the time we look. A worker that exited with an
// error, or never confirmed within the grace period, reports failed. On
// grace expiry the handle stays registered: a slow worker may still come
// up and legitimately report running next cycle.
//
// Returns a zero State with ctx's error when the daemon shuts down
// mid-wait.
func (s *Supervisor) awaitStartup(ctx context.Context, h *Handle) (State, error) {
	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-h.Started():
	case <-h.Done():
	case <-timer.C:
		return StateFailed, fmt.Errorf("worker %s: %w after %s", h.workerName, ErrStartupTimeout, s.grace)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case <-h.Done():
		err := h.TerminalError()
		if err == nil && h.startupConfirmed() {
			return StateStarted, nil
		}
		if err == nil {
			err = fmt.Errorf("worker %s exited before startup completed", h.workerName)
		}
		return StateFailed, err
	default:
		return StateStarted, nil
	}
}

func validateSpec(source SourceSpec) error {
	if source.Name == "" {
		return fmt.Errorf("source has no name")
	}
	if source.Sink == nil {
		return fmt.Errorf("source %q has no sink", source.Name)
	}
	return nil
}
