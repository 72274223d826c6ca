// Package sink writes captured log lines to size-rotated files on disk,
// one sink per source, all under the central log directory.
package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// backupCount is how many rotated files are kept per source before the
// oldest is pruned.
const backupCount = 4

// RotatingSink is an append-only, size-rotated log file for one source.
// A sink is written by exactly one capture worker at a time.
type RotatingSink struct {
	name string
	out  *lumberjack.Logger
}

// Open creates or reopens the sink file fileName under dir. When
// rotateOnOpen is set and the file already holds output from an earlier
// run, it is rotated away first so every run starts on a fresh file.
func Open(dir, sourceName, fileName string, maxBytes int64, rotateOnOpen bool) (*RotatingSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(dir, fileName)
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    megabytes(maxBytes),
		MaxBackups: backupCount,
		LocalTime:  true,
	}

	if rotateOnOpen {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			if err := out.Rotate(); err != nil {
				return nil, fmt.Errorf("rotate %s: %w", path, err)
			}
		}
	}

	return &RotatingSink{name: sourceName, out: out}, nil
}

// Name reports the source this sink belongs to.
func (s *RotatingSink) Name() string { return s.name }

// WriteLine appends one line, rotating the file first when it would grow
// past its size bound.
func (s *RotatingSink) WriteLine(line string) error {
	if _, err := s.out.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("sink %s: %w", s.name, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *RotatingSink) Close() error {
	return s.out.Close()
}

// megabytes converts a byte bound to the whole-megabyte granularity the
// file rotation works in, rounding up so a small bound still rotates.
func megabytes(n int64) int {
	const mb = 1 << 20
	m := (n + mb - 1) / mb
	if m < 1 {
		m = 1
	}
	return int(m)
}
