// Package logger wires the process-wide structured logger plus a
// dedicated audit stream for on-chain writes and dispatched job events.
// The audit stream rotates on disk so settlement trails survive restarts.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config mirrors the daemon's logging section.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the rotating audit stream. Sizes are megabytes,
// ages are days; rotation itself is delegated to lumberjack.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu      sync.Mutex
	root    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
)

// Init builds the global loggers. The first successful call wins; later
// calls are no-ops so library code and tests may call it freely.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if root != nil {
		return nil
	}

	out, err := combineOutputs(cfg.OutputPaths)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	if strings.EqualFold(cfg.Format, "text") {
		root = slog.New(slog.NewTextHandler(out, opts))
	} else {
		root = slog.New(slog.NewJSONHandler(out, opts))
	}

	// Without a dedicated audit file the audit entries fold into the
	// main stream so they are never silently dropped.
	audit = root
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			root = nil
			return errors.New("audit log path cannot be empty when enabled")
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.Audit.Path,
			MaxSize:    orDefault(cfg.Audit.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.Audit.MaxBackups, 7),
			MaxAge:     orDefault(cfg.Audit.MaxAgeDays, 30),
			Compress:   true,
		}
		closers = append(closers, rotator)
		audit = slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return nil
}

func combineOutputs(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch strings.ToLower(path) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			closers = append(closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

// L returns the process logger, initialising stdout defaults when Init
// has not run yet.
func L() *slog.Logger {
	mu.Lock()
	ready := root != nil
	mu.Unlock()
	if !ready {
		_ = Init(Config{})
	}
	return root
}

// Audit returns the audit logger. Prefer TxSubmitted and EventHandled
// for the well-known entry shapes.
func Audit() *slog.Logger {
	if audit == nil {
		return L()
	}
	return audit
}

// TxSubmitted records the audit trail entry for a transaction handed to
// a backend. Entry names are stable ASCII so downstream parsers do not
// depend on display messages.
func TxSubmitted(ref, target, signer string) {
	Audit().Info("tx_submitted",
		slog.String("ref", ref),
		slog.String("target", target),
		slog.String("signer", signer),
	)
}

// EventHandled records the audit trail entry for a fully processed job
// event.
func EventHandled(kind string, jobID, memoID int64) {
	Audit().Info("event_handled",
		slog.String("kind", kind),
		slog.Int64("job_id", jobID),
		slog.Int64("memo_id", memoID),
	)
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes file-backed outputs, including the audit rotator.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}
