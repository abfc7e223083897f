// Package requestlog appends one audit line per generation attempt to a
// shared log file. Writers open, append, and close per call so concurrent
// pipeline completions interleave safely at the line level.
package requestlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FailureSentinel replaces the artifact path in the log line when a
// generation attempt fails.
const FailureSentinel = "<failure>"

const timestampLayout = "2006-01-02 15:04:05.000"

type Log struct {
	path   string
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) *Log {
	return &Log{path: path, logger: logger}
}

// Append writes one newline-terminated record:
//
//	<timestamp> <requester> <resultPathOrSentinel> <requestText>
//
// A write failure is logged as a warning and never propagated; the
// user-facing flow must not fail because the audit trail failed.
func (l *Log) Append(ts time.Time, requester, result, requestText string) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		l.logger.Warn("cannot create request log directory", "path", l.path, "err", err)
		return
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("cannot open request log", "path", l.path, "err", err)
		return
	}
	defer f.Close()

	// Single Write of the whole line; O_APPEND keeps concurrent writers
	// from interleaving within a line.
	line := fmt.Sprintf("%s %s %s %s\n", ts.Format(timestampLayout), requester, result, requestText)
	if _, err := f.WriteString(line); err != nil {
		l.logger.Warn("cannot append to request log", "path", l.path, "err", err)
	}
}
