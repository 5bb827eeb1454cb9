package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	charmlog "github.com/charmbracelet/log"
)

// Options controls where and how much is logged.
type Options struct {
	Level string
	// ToFile writes logfmt to a dated file in the state directory. The TUI
	// owns the terminal, so it always logs to a file.
	ToFile bool
	// Writer is used when ToFile is false. Defaults to stderr.
	Writer io.Writer
}

// Setup creates a slog.Logger backed by a charmbracelet/log handler. The
// returned closer is non-nil and must be called on exit.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = opts.Writer
		closer io.Closer = nopCloser{}
	)
	formatter := charmlog.TextFormatter
	if opts.ToFile {
		stateDir, err := StateDir()
		if err != nil {
			return nil, nil, fmt.Errorf("state dir: %w", err)
		}
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create state dir: %w", err)
		}
		path := filepath.Join(stateDir, fmt.Sprintf("scrobbled-%s.log", time.Now().Format("20060102")))
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
		formatter = charmlog.LogfmtFormatter
	}
	if w == nil {
		w = os.Stderr
	}

	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
	return slog.New(handler), closer, nil
}

// ParseLevel maps debug|info|warn|error to a charmbracelet/log level. Empty
// means info.
func ParseLevel(s string) (charmlog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return charmlog.DebugLevel, nil
	case "", "info":
		return charmlog.InfoLevel, nil
	case "warn", "warning":
		return charmlog.WarnLevel, nil
	case "error":
		return charmlog.ErrorLevel, nil
	default:
		return charmlog.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// StateDir returns the scrobbled log directory under XDG_STATE_HOME.
func StateDir() (string, error) {
	if xdg.StateHome == "" {
		return "", fmt.Errorf("no state home")
	}
	return filepath.Join(xdg.StateHome, "scrobbled"), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
