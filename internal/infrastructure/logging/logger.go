package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/simpit-core/internal/infrastructure/config"
)

// ServiceName is attached to every log entry as the "service" field.
const ServiceName = "simpit"

// Logger is a *slog.Logger whose With returns a *Logger, so component
// loggers can be passed where a *Logger is expected.
type Logger struct {
	*slog.Logger
}

// New builds a Logger for cfg. Output "stderr" selects standard error;
// anything else logs to standard output.
func New(cfg config.LoggingConfig, version string) *Logger {
	w := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWriter(cfg, version, w)
}

// NewWriter builds a Logger for cfg that writes to w.
func NewWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	h := newHandler(cfg.Format, w, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return &Logger{Logger: slog.New(h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	}))}
}

// newHandler returns a text handler for format "text" and JSON otherwise.
func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLevel maps a configured level name onto slog. Unknown names log at info.
func parseLevel(name string) slog.Level {
	if lvl, ok := levels[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// With is slog.Logger.With that keeps the *Logger type.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags entries with the subsystem that wrote them.
//
//	log := logger.Component("stream")
//	log.Info("connected") // component=stream
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the logger used before configuration has loaded: JSON at
// info level on standard output.
func Default() *Logger {
	return NewWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", os.Stdout)
}
