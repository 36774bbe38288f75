// Package logging is a thin wrapper over log/slog modeled on the
// go-ethereum "log" package: a package-level default Logger, component
// loggers created with New(component, name), and a choice between a
// human-readable terminal handler and a JSON handler for production.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger is the interface the rest of the block builder logs through.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// LevelTrace sits one notch below slog's Debug, matching the teacher's
// six-level scheme (Trace/Debug/Info/Warn/Error/Crit collapsed here to
// slog's four plus Trace).
const LevelTrace = slog.Level(-8)

func (s *slogLogger) Trace(msg string, args ...any) { s.l.Log(context.Background(), LevelTrace, msg, args...) }
func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
func (s *slogLogger) With(args ...any) Logger       { return &slogLogger{l: s.l.With(args...)} }

var (
	mu      sync.RWMutex
	root    Logger
)

func init() {
	root = &slogLogger{l: slog.New(NewTerminalHandler(os.Stderr))}
}

// NewTerminalHandler formats records as slog text key=value pairs
// ("time=... level=... msg=... key=value ..."), with the time shortened
// to "01-02|15:04:05.000".
func NewTerminalHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: LevelTrace,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format("01-02|15:04:05.000"))
			}
			return a
		},
	})
}

// NewJSONHandler is the production handler: one JSON object per line.
func NewJSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: LevelTrace})
}

// SetDefault installs l as the package-level default logger.
func SetDefault(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
}

// Root returns the package-level default logger.
func Root() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// New returns a component-scoped logger: New("component", "intake").
func New(args ...any) Logger { return Root().With(args...) }

// FromHandler builds a Logger around an arbitrary slog.Handler, used by
// cmd/blockbuilder to switch between terminal and JSON output.
func FromHandler(h slog.Handler) Logger { return &slogLogger{l: slog.New(h)} }
