package capture

import (
	"bufio"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// maxLineSize bounds a single captured line. A source emitting a longer
// line terminates its worker with a stream error.
const maxLineSize = 1024 * 1024 // 1MB

// LineSink is the append-only destination for one source's filtered lines.
// Each sink is owned and written by exactly one worker at a time.
type LineSink interface {
	WriteLine(line string) error
}

// SourceSpec identifies one log source to capture. Specs are built once per
// configuration load and never mutated afterwards.
type SourceSpec struct {
	// Name is the unique, stable source identifier (the container name).
	Name string

	// Sink receives the source's filtered output lines.
	Sink LineSink

	// ExcludePatterns drops any captured line containing one of them.
	ExcludePatterns []string
}

// CommandFunc builds the un-started streaming command for a source. Tests
// substitute scripted commands.
type CommandFunc func(sourceName string) *exec.Cmd

// DefaultCommand follows a container's log stream with docker.
func DefaultCommand(sourceName string) *exec.Cmd {
	return exec.Command("docker", "logs", "--follow", sourceName)
}

// worker owns the stream subprocess for one source.
type worker struct {
	source  SourceSpec
	handle  *Handle
	command CommandFunc
	logger  *slog.Logger
}

// run is the goroutine body for one source. It blocks on the subprocess
// spawn and then on each stream read, forwarding filtered lines to the
// sink in arrival order, and reports its terminal outcome through the
// handle. It never retries; reconciliation happens on the next cycle.
func (w *worker) run() {
	w.handle.live.Store(true)
	defer func() {
		w.handle.live.Store(false)
		close(w.handle.done)
	}()

	cmd := w.command(w.source.Name)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.handle.setTerminalError(w.commandError(cmd, err))
		return
	}
	// Merge stderr into the stdout pipe so both channels arrive as one
	// ordered stream.
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		w.handle.setTerminalError(w.commandError(cmd, err))
		return
	}
	w.handle.confirmStarted()
	w.logger.Debug("stream subprocess started",
		"source", w.source.Name, "worker", w.handle.workerName)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r\n")
		if !ShouldForward(line, w.source.ExcludePatterns) {
			continue
		}
		if err := w.source.Sink.WriteLine(line); err != nil {
			// A dead sink makes the capture useless; reap the subprocess
			// instead of streaming into the void.
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			w.handle.setTerminalError(w.commandError(cmd, fmt.Errorf("sink write: %w", err)))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		w.handle.setTerminalError(w.commandError(cmd, err))
		return
	}

	// End of stream: the source process exited. A zero exit status is a
	// clean end of capture, not a failure.
	if err := cmd.Wait(); err != nil {
		w.handle.setTerminalError(w.commandError(cmd, err))
		return
	}
	w.logger.Debug("stream ended",
		"source", w.source.Name, "worker", w.handle.workerName)
}

// commandError wraps err with the offending command line in parentheses so
// the alerting layer can extract it for operator-facing messages.
func (w *worker) commandError(cmd *exec.Cmd, err error) error {
	return fmt.Errorf("capture sub-process (%s) failed for source %q: %w",
		strings.Join(cmd.Args, " "), w.source.Name, err)
}
