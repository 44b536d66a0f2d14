// Package logging configures the process-wide zerolog logger. Components ask
// for a named sub-logger so every line carries its origin.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Setup initializes the root logger. When console is true, output is the
// human-readable console writer; otherwise one JSON object per line.
// Unknown levels fall back to info.
func Setup(level string, console bool) {
	var w io.Writer = os.Stderr
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	mu.Lock()
	root = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
}

// Component returns a sub-logger tagged with the component name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", name).Logger()
}

// Root returns the root logger.
func Root() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}
