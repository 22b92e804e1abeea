// Package log provides structured logging for facetrack.
// It wraps slog and optionally writes to rotating files.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

var (
	logger *slog.Logger
	closer io.Closer
	once   sync.Once
)

// Options select where and how logs are written.
type Options struct {
	Level string // debug, info, warn or error
	// Format is json or text. Empty picks json for files and text
	// otherwise.
	Format string
	// File enables rotating file output. The active file is a symlink at
	// this path; rotated files get a date suffix.
	File   string
	MaxAge time.Duration
	// Output is used when File is empty. Defaults to stderr.
	Output io.Writer
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
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

// New builds a logger from opts. The returned closer releases the log
// file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	var c io.Closer = io.NopCloser(nil)
	format := opts.Format

	if opts.File != "" {
		maxAge := opts.MaxAge
		if maxAge <= 0 {
			maxAge = 7 * 24 * time.Hour
		}
		rl, err := rotatelogs.New(
			opts.File+".%Y%m%d",
			rotatelogs.WithLinkName(opts.File),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithMaxAge(maxAge),
		)
		if err != nil {
			return nil, nil, err
		}
		out, c = rl, rl
		if format == "" {
			format = "json"
		}
	}

	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(out, hopts)
	} else {
		h = slog.NewTextHandler(out, hopts)
	}
	return slog.New(h), c, nil
}

// Init initializes the global logger once and makes it the slog default.
// Later calls are no-ops.
func Init(opts Options) error {
	var err error
	once.Do(func() {
		var l *slog.Logger
		if l, closer, err = New(opts); err != nil {
			return
		}
		logger = l
		slog.SetDefault(logger)
	})
	return err
}

// Close releases the log file opened by Init.
func Close() error {
	if closer == nil {
		return nil
	}
	return closer.Close()
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		Init(Options{Level: "info"})
	}
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
