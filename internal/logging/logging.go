// Package logging builds the run logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/nhle/mailsum/internal/model"
)

// New returns a logger writing to w and, when cfg.File is set, also
// appending to that file. Every entry carries the run identifier. The
// returned cleanup closes the log file.
func New(cfg model.LogConfig, w io.Writer) (*log.Logger, func() error, error) {
	cleanup := func() error { return nil }

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, cleanup, err
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, cleanup, fmt.Errorf("creating log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, fmt.Errorf("opening log file: %w", err)
		}
		w = io.MultiWriter(w, file)
		cleanup = file.Close
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "mailsum",
	})

	return logger.With("run", RunID()), cleanup, nil
}

// ParseLevel accepts debug, info, warn and error. Empty means info.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return log.InfoLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// RunID returns a short random identifier for one invocation.
func RunID() string {
	return uuid.NewString()[:8]
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
