package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the log level and output format.
type Config struct {
	Level  string    // trace, debug, info, warn, error (default info)
	Format string    // json or console (default console)
	Output io.Writer // default os.Stderr
}

var (
	mu           sync.RWMutex
	base         zerolog.Logger
	debugEnabled bool
)

func init() {
	Init(Config{})
}

// Init (re)configures the global logger. Safe to call more than once.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	out := cfg.Output
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.TimeOnly, NoColor: true}
	}
	lvl := parseLevel(cfg.Level)

	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(out).With().Timestamp().Logger().Level(lvl)
	debugEnabled = lvl <= zerolog.DebugLevel
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// SetDebug enables or disables debug logging
func SetDebug(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	debugEnabled = enabled
	if enabled && base.GetLevel() > zerolog.DebugLevel {
		base = base.Level(zerolog.DebugLevel)
	} else if !enabled && base.GetLevel() < zerolog.InfoLevel {
		base = base.Level(zerolog.InfoLevel)
	}
}

// DebugEnabled reports whether debug output is currently emitted.
func DebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugEnabled
}

// Logger returns the underlying zerolog logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// With returns a child logger tagged with a component name.
//
//	log := logger.With("apiclient")
//	log.Debug().Str("path", p).Msg("cache hit")
func With(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", component).Logger()
}

// Info logs an informational message
func Info(format string, args ...interface{}) {
	l := Logger()
	l.Info().Msg(fmt.Sprintf(format, args...))
}

// Warn logs a warning
func Warn(format string, args ...interface{}) {
	l := Logger()
	l.Warn().Msg(fmt.Sprintf(format, args...))
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	l := Logger()
	l.Error().Msg(fmt.Sprintf(format, args...))
}

// Debug logs a debug message if debug logging is enabled
func Debug(format string, args ...interface{}) {
	l := Logger()
	l.Debug().Msg(fmt.Sprintf(format, args...))
}

// Fatal logs an error message and exits with status 1
func Fatal(format string, args ...interface{}) {
	l := Logger()
	l.Error().Msg(fmt.Sprintf(format, args...))
	os.Exit(1)
}
