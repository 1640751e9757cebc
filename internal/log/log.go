package log

import (
	"os"
	"strings"
	"sync"

	"github.com/paularlott/logger"
	logslog "github.com/paularlott/logger/slog"
)

// Package-level logger shared by the whole application. Configure replaces
// it; callers always go through the package functions so reconfiguration
// takes effect everywhere at once.
var (
	mu   sync.RWMutex
	root logger.Logger = logslog.New(logslog.Config{Level: "info", Format: "console"})
)

// Configure sets the global log level and output format.
// Level is one of trace, debug, info, warn, error; format is console or json.
func Configure(level, format string) {
	if strings.EqualFold(format, "json") {
		format = "json"
	} else {
		format = "console"
	}

	mu.Lock()
	root = logslog.New(logslog.Config{Level: strings.ToLower(level), Format: format})
	mu.Unlock()
}

// Debug logs at debug level with alternating key/value pairs.
func Debug(msg string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	root.Debug(msg, args...)
}

// Info logs at info level with alternating key/value pairs.
func Info(msg string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	root.Info(msg, args...)
}

// Warn logs at warn level with alternating key/value pairs.
func Warn(msg string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	root.Warn(msg, args...)
}

// Error logs at error level with alternating key/value pairs.
func Error(msg string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	root.Error(msg, args...)
}

// Fatal logs at error level and exits.
func Fatal(msg string, args ...any) {
	mu.RLock()
	root.Error(msg, args...)
	mu.RUnlock()
	os.Exit(1)
}
