package capture

import (
	"errors"
	"os/exec"
	"strings"
	"time"
)

// State describes the outcome of one supervision pass over one source.
type State string

const (
	// StateRunning means a live worker for the source already existed when
	// the cycle began; no new spawn was attempted.
	StateRunning State = "running"

	// StateStarted means a worker was spawned this cycle and its stream
	// came up.
	StateStarted State = "started"

	// StateFailed means a worker was spawned this cycle and is not healthy.
	StateFailed State = "failed"
)

// FailureCategory classifies a worker's terminal error. It selects the
// alert template downstream and never influences supervision control flow.
type FailureCategory string

const (
	// FailureSourceTimeout marks a worker that did not confirm its stream
	// subprocess within the startup grace period.
	FailureSourceTimeout FailureCategory = "source_timeout"

	// FailureSourceNotFound marks a stream command whose executable or
	// target could not be found.
	FailureSourceNotFound FailureCategory = "source_not_found"

	// FailureSpawnOrStream is the catch-all for every other spawn, read,
	// or sink error.
	FailureSpawnOrStream FailureCategory = "spawn_or_stream_error"
)

// StatusRecord is the per-source result of one supervision cycle.
type StatusRecord struct {
	SourceName string          `json:"source_name"`
	WorkerName string          `json:"worker_name"`
	State      State           `json:"state"`
	Failure    FailureCategory `json:"failure_category,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Report aggregates one cycle's records in source order.
type Report struct {
	Cycle      uint64         `json:"cycle"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Records    []StatusRecord `json:"records"`
}

// ErrStartupTimeout marks a worker that failed to confirm its stream
// subprocess within the supervisor's startup grace period.
var ErrStartupTimeout = errors.New("startup grace period exceeded")

// Classify maps a worker's terminal error onto a FailureCategory. The match
// is a best-effort heuristic over error identity first and message text
// second; anything ambiguous falls through to FailureSpawnOrStream rather
// than being dropped.
func Classify(err error) FailureCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrStartupTimeout) {
		return FailureSourceTimeout
	}
	if errors.Is(err, exec.ErrNotFound) {
		return FailureSourceNotFound
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "grace period exceeded"):
		return FailureSourceTimeout
	case strings.Contains(msg, "executable file not found"),
		strings.Contains(msg, "no such file or directory"),
		strings.Contains(msg, "cannot find the file"):
		return FailureSourceNotFound
	default:
		return FailureSpawnOrStream
	}
}
