package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu      sync.RWMutex
	backend = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	level   = new(slog.LevelVar)
)

// Init configures the process-wide logger. Level is one of
// "debug", "info", "warn", "error"; anything else means info.
func Init(w io.Writer, levelName string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(levelName) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}

	backend = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func logWith(lvl slog.Level, component, msg string, fields map[string]interface{}) {
	mu.RLock()
	l := backend
	mu.RUnlock()

	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "component", component)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	l.Log(nil, lvl, msg, attrs...)
}

func DebugC(component, msg string) { logWith(slog.LevelDebug, component, msg, nil) }
func InfoC(component, msg string)  { logWith(slog.LevelInfo, component, msg, nil) }
func WarnC(component, msg string)  { logWith(slog.LevelWarn, component, msg, nil) }
func ErrorC(component, msg string) { logWith(slog.LevelError, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	logWith(slog.LevelDebug, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logWith(slog.LevelInfo, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logWith(slog.LevelWarn, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logWith(slog.LevelError, component, msg, fields)
}
