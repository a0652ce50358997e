package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// Configure initializes the shared JSON logger writing to stdout at the given
// level ("debug", "info", "warn", "error"). Only the first call has an effect.
func Configure(level string) *slog.Logger {
	once.Do(func() {
		set(New(os.Stdout, level))
	})
	return Logger()
}

// New builds a JSON logger writing to w.
func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler)
}

// ParseLevel maps a level name onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Logger returns the configured slog logger, configuring it at info level on
// first use if necessary.
func Logger() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return Configure("info")
	}
	return l
}

func set(l *slog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}
