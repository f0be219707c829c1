// Package logging builds the gateway's structured logger. Entries are JSON
// via log/slog; the level can be changed at runtime and output goes to
// stdout, stderr or a size-rotated file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dskow/service-gateway/internal/config"
)

// Logger bundles the slog.Logger with its adjustable level and output.
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	output io.Writer
}

// New creates a Logger from the logging section of the config.
func New(cfg config.LoggingConfig) (*Logger, error) {
	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		rw, err := NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, err
		}
		out = rw
	}
	return NewWithWriter(out, cfg.Level), nil
}

// NewWithWriter creates a Logger writing JSON to w at the given level.
func NewWithWriter(w io.Writer, level string) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(level))
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})),
		level:  lv,
		output: w,
	}
}

// SetLevel changes the minimum level of every logger derived from l.
func (l *Logger) SetLevel(level string) {
	l.level.Set(ParseLevel(level))
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level { return l.level.Level() }

// Close releases the output if it is a file.
func (l *Logger) Close() error {
	if c, ok := l.output.(io.Closer); ok && l.output != os.Stdout && l.output != os.Stderr {
		return c.Close()
	}
	return nil
}

// ParseLevel converts a logging.level string to a slog.Level. Unknown
// values map to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
