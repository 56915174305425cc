// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// Options controls where and how records are written.
type Options struct {
	Level  string
	Format string // text or json
	File   string // optional; always written as JSON
}

// New returns a logger writing to w and, when opts.File is set, fanned out
// to a JSON copy in that file. The returned closer releases the file.
func New(w io.Writer, opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}

	var primary slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		primary = slog.NewTextHandler(w, hopts)
	case "json":
		primary = slog.NewJSONHandler(w, hopts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	if opts.File == "" {
		return slog.New(primary).With(slog.String("service", "confhub")), nopCloser{}, nil
	}

	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	handler := slogmulti.Fanout(primary, slog.NewJSONHandler(f, hopts))
	return slog.New(handler).With(slog.String("service", "confhub")), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
