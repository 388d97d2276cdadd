// Package logger provides leveled, structured logging for catalog sync.
// Records are written to stderr as text and, when a log file is configured,
// to a size-rotated JSON file as well. Verbose mode (--verbose) lowers the
// level to debug so individual tick decisions become visible.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu         sync.RWMutex
	verbose    bool
	output     io.Writer = os.Stderr
	configured           = slog.LevelInfo
	level                = new(slog.LevelVar)
	file       io.WriteCloser
	base       *slog.Logger
)

func init() {
	level.Set(configured)
	rebuild()
}

// Options configures the log sinks.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// File enables the JSON file sink when non-empty.
	File string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// MaxAgeDays is the age after which rotated files are removed.
	MaxAgeDays int
}

// Setup replaces the log sinks. It may be called more than once.
func Setup(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	configured = lvl
	if !verbose {
		level.Set(lvl)
	}

	if file != nil {
		_ = file.Close()
		file = nil
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
	}

	rebuild()
	return nil
}

// Close flushes and closes the file sink, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	rebuild()
	return err
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// rebuild recreates the root logger (caller must hold lock).
func rebuild() {
	text := slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})
	if file == nil {
		base = slog.New(text)
		return
	}
	jsonFile := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	base = slog.New(slogmulti.Fanout(text, jsonFile))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SetVerbose enables or disables debug logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	if v {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(configured)
	}
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the writer of the text sink.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	rebuild()
}

// L returns the root logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// With returns the root logger with attributes attached.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// ForSession returns a logger tagged with a session id and scope.
func ForSession(sessionID, scope string) *slog.Logger {
	if scope == "" {
		scope = "default"
	}
	return L().With("session", sessionID, "scope", scope)
}

// Debug logs a formatted message at debug level.
func Debug(format string, args ...any) {
	L().Debug(fmt.Sprintf(format, args...))
}

// Section logs a section header at debug level.
func Section(name string) {
	L().Debug("=== " + name + " ===")
}

// Info logs a formatted message at info level.
func Info(format string, args ...any) {
	L().Info(fmt.Sprintf(format, args...))
}

// Warn logs a formatted message at warn level.
func Warn(format string, args ...any) {
	L().Warn(fmt.Sprintf(format, args...))
}

// Error logs a formatted message at error level.
func Error(format string, args ...any) {
	L().Error(fmt.Sprintf(format, args...))
}
