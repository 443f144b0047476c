package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"kafer/internal/config"

	"gopkg.in/lumberjack.v2"
)

// Init installs a JSON slog handler writing to stdout and, when configured,
// to a size-rotated log file.
// POST: slog.Default() uses the new handler; the returned closer releases the file
func Init(cfg config.LogConfig) io.Closer {
	var writers []io.Writer
	var file *lumberjack.Logger
	if cfg.Console {
		writers = append(writers, os.Stdout)
	}
	if cfg.File != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
		}
		writers = append(writers, file)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	slog.SetDefault(New(io.MultiWriter(writers...), cfg.Level))
	slog.Info("logger_initialized", "level", cfg.Level, "file", cfg.File)

	if file == nil {
		return nopCloser{}
	}
	return file
}

// New builds a JSON logger at the given level.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
