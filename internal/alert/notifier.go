// Package alert turns per-source capture status into operator
// notifications: structured log lines always, email when the settings
// file switches it on.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/tinytelemetry/logtap/internal/capture"
)

const subjectPrefix = "Logtap"

const timestampLayout = "2006-01-02 15:04:05"

// commandPattern pulls the parenthesized command line out of a failure
// message for the operator-facing mail body.
var commandPattern = regexp.MustCompile(`\(.*\)`)

// Config carries the alerting switches from the settings file.
type Config struct {
	// EmailAlerts gates every outbound mail.
	EmailAlerts bool

	// AlertProgramErrors additionally gates the detailed failure mails.
	AlertProgramErrors bool

	// RecheckInterval is quoted in mail bodies so operators know when the
	// next supervision pass happens.
	RecheckInterval time.Duration
}

// Notifier reacts to each status record of a supervision cycle.
type Notifier struct {
	mailer Mailer
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewNotifier(mailer Mailer, cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{mailer: mailer, cfg: cfg, logger: logger, now: time.Now}
}

// Process walks a cycle report in record order. Mail delivery problems are
// logged and swallowed. The returned error is non-nil only for a record
// whose state is outside the known set, which is a programming error the
// daemon must not run past.
func (n *Notifier) Process(ctx context.Context, report capture.Report) error {
	for _, record := range report.Records {
		if err := n.processRecord(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) processRecord(ctx context.Context, record capture.StatusRecord) error {
	switch record.State {
	case capture.StateRunning:
		n.logger.Info("worker still running, no action required",
			"source", record.SourceName, "worker", record.WorkerName)
	case capture.StateStarted:
		n.logger.Info("log capture started",
			"source", record.SourceName, "worker", record.WorkerName)
		n.sendStatusChange(ctx, record)
	case capture.StateFailed:
		n.logger.Error("log capture failed",
			"source", record.SourceName,
			"worker", record.WorkerName,
			"category", string(record.Failure),
			"error", record.Error)
		n.sendStatusChange(ctx, record)
		n.reportFailure(ctx, record)
	default:
		return fmt.Errorf("unknown capture state %q for source %s: expected one of running, started, failed",
			record.State, record.SourceName)
	}
	return nil
}

// sendStatusChange mails the generic state transition notice for every
// non-running record.
func (n *Notifier) sendStatusChange(ctx context.Context, record capture.StatusRecord) {
	if !n.cfg.EmailAlerts {
		return
	}
	subject := fmt.Sprintf("%s - The event for %s has a status of [%s]",
		subjectPrefix, record.SourceName, record.State)
	body := fmt.Sprintf("A log capture event has occurred. Status of the log redirect = %s",
		record.State)
	n.send(ctx, subject, body)
}

// reportFailure logs the category-specific diagnosis for a failed record
// and mails it when both alert switches are on.
func (n *Notifier) reportFailure(ctx context.Context, record capture.StatusRecord) {
	subject, body := n.failureMessage(record)
	n.logger.Warn(body,
		"source", record.SourceName,
		"worker", record.WorkerName,
		"category", string(record.Failure))
	if !n.cfg.EmailAlerts || !n.cfg.AlertProgramErrors {
		return
	}
	n.send(ctx, subject, body)
}

func (n *Notifier) failureMessage(record capture.StatusRecord) (subject, body string) {
	ts := n.now().Format(timestampLayout)
	command := commandPattern.FindString(record.Error)
	recheck := fmt.Sprintf("The source will be re-checked in %s.", n.cfg.RecheckInterval)

	switch record.Failure {
	case capture.FailureSourceTimeout:
		subject = subjectPrefix + " - Container Not Outputting"
		body = fmt.Sprintf(
			"A container output issue was detected at %s. The capture worker %s stopped producing output. This can happen when the container %s stops running. %s",
			ts, record.WorkerName, record.SourceName, recheck)
	case capture.FailureSourceNotFound:
		if command == "" {
			command = record.Error
		}
		subject = subjectPrefix + " - Capture Command Failed To Run"
		body = fmt.Sprintf(
			"The system cannot find the file needed to run the capture sub-process %s at %s. Check that docker is installed and that the running user has permission to the docker socket. %s",
			command, ts, recheck)
	default:
		if command != "" {
			subject = subjectPrefix + " - Capture Command Failed To Run"
			body = fmt.Sprintf("The capture sub-process %s failed to run at %s. Error: %s. %s",
				command, ts, record.Error, recheck)
			return subject, body
		}
		subject = subjectPrefix + " - Program Issue Occurred"
		body = fmt.Sprintf("A program issue occurred at %s. Error: %s. %s", ts, record.Error, recheck)
	}
	return subject, body
}

func (n *Notifier) send(ctx context.Context, subject, body string) {
	if n.mailer == nil {
		n.logger.Warn("alert mail skipped, no mailer configured", "subject", subject)
		return
	}
	if err := n.mailer.Send(ctx, subject, body); err != nil {
		// Alerting must never take the capture daemon down with it.
		n.logger.Warn("alert mail failed", "subject", subject, "error", err)
		return
	}
	n.logger.Info("alert mail sent", "subject", subject)
}
