package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions configure InitLogging.
type LogOptions struct {
	Level string // debug, info, warn or error
	File  string // rotated log file; empty logs to stderr
	JSON  bool
}

// InitLogging installs the default slog logger. The returned closer releases
// the log file.
func InitLogging(opts LogOptions) (io.Closer, error) {
	var level slog.Level
	if opts.Level == "" {
		opts.Level = "info"
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(opts.Level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
	}

	var out io.WriteCloser = nopCloser{os.Stderr}
	if opts.File != "" {
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(out, handlerOpts)
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
	return out, nil
}

// Logger returns the default logger tagged with component.
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
