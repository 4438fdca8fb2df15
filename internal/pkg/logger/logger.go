// Package logger emits structured JSON log lines and redacts recipient
// addresses by default. Delivery logs routinely carry recipient emails;
// masking them at the handler keeps PII out of log aggregation.
package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// Level is the minimum severity the logger emits.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	mu       sync.Mutex
	levelVar = new(slog.LevelVar)
	redact   atomic.Bool
	out      io.Writer = os.Stderr
	root     atomic.Pointer[slog.Logger]
)

func init() {
	redact.Store(true)
	rebuild()
}

func rebuild() {
	h := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: redactAttr,
	})
	root.Store(slog.New(h))
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if !redact.Load() {
		return a
	}
	if a.Value.Kind() == slog.KindString {
		a.Value = slog.StringValue(maskEmails(a.Key, a.Value.String()))
	}
	return a
}

// SetLevel sets the minimum emitted level.
func SetLevel(l Level) {
	switch l {
	case DEBUG:
		levelVar.Set(slog.LevelDebug)
	case WARN:
		levelVar.Set(slog.LevelWarn)
	case ERROR:
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// SetRedactPII toggles email masking in field values.
func SetRedactPII(r bool) { redact.Store(r) }

// SetOutput redirects log output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// Debug logs at DEBUG with alternating key/value fields.
func Debug(msg string, fields ...any) { root.Load().Debug(msg, fields...) }

// Info logs at INFO with alternating key/value fields.
func Info(msg string, fields ...any) { root.Load().Info(msg, fields...) }

// Warn logs at WARN with alternating key/value fields.
func Warn(msg string, fields ...any) { root.Load().Warn(msg, fields...) }

// Error logs at ERROR with alternating key/value fields.
func Error(msg string, fields ...any) { root.Load().Error(msg, fields...) }
