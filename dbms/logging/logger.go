// Package logging holds the process-wide structured logger.
//
// Packages obtain loggers through GetLogger or one of the With helpers
// instead of building their own slog.Logger, so the level and destination are
// decided once by the binary:
//
//	if err := logging.Init(logging.Config{Level: logging.LevelDebug}); err != nil {
//	    log.Fatal(err)
//	}
//	logging.WithComponent("pager").Debug("page evicted", "page_id", id)
//
// Without Init the logger writes warnings and above to stderr, which keeps
// library use and tests quiet.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config selects the logger's verbosity, output and encoding.
type Config struct {
	Level  Level
	Output io.Writer // nil means stderr
	JSON   bool
}

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// ParseLevel maps a flag value onto a Level.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(s)); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return l, nil
	}
	return "", errors.Newf("unknown log level %q", s)
}

// Init replaces the global logger.
func Init(cfg Config) error {
	var lvl slog.Level
	switch cfg.Level {
	case LevelDebug:
		lvl = slog.LevelDebug
	case LevelInfo, "":
		lvl = slog.LevelInfo
	case LevelWarn:
		lvl = slog.LevelWarn
	case LevelError:
		lvl = slog.LevelError
	default:
		return errors.Newf("unknown log level %q", cfg.Level)
	}

	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	logger = slog.New(h)
	mu.Unlock()
	return nil
}

// GetLogger returns the global logger, creating the default one on first use.
func GetLogger() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return logger
}

// WithComponent tags records with the subsystem that produced them.
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithPage tags records with a page id.
func WithPage(l *slog.Logger, pageID uint32) *slog.Logger {
	return l.With("page_id", pageID)
}
