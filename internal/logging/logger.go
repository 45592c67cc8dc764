// Package logging wraps zerolog with the level/config surface the
// rest of this module expects: a Config struct, a constructable
// Logger, a process-wide default, and field-builder child loggers for
// the hub, a task, and a connection.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's levels without leaking the dependency into
// every caller's import list.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config configures a Logger.
type Config struct {
	Level  Level
	JSON   bool
	Output io.Writer
}

// DefaultConfig returns info-level, human-readable logging to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Logger is a thin handle around a zerolog.Logger.
type Logger struct {
	z zerolog.Logger
}

// NewLogger builds a Logger from cfg; a zero Config behaves like DefaultConfig.
func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := cfg.Level
	if level == "" {
		level = LevelInfo
	}

	var z zerolog.Logger
	if cfg.JSON {
		z = zerolog.New(out).With().Timestamp().Logger()
	} else {
		z = zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: true}).With().Timestamp().Logger()
	}
	return &Logger{z: z.Level(level.zerolog())}
}

// Nop returns a Logger that discards everything, for tests that don't
// care about log output.
func Nop() *Logger {
	return &Logger{z: zerolog.Nop()}
}

// WithHub returns a child logger tagged with the hub's identity.
func (l *Logger) WithHub(name string) *Logger {
	return &Logger{z: l.z.With().Str("hub", name).Logger()}
}

// WithTask returns a child logger tagged with a task id.
func (l *Logger) WithTask(id uint64) *Logger {
	return &Logger{z: l.z.With().Uint64("task", id).Logger()}
}

// WithConn returns a child logger tagged with a connection descriptor.
func (l *Logger) WithConn(fd int) *Logger {
	return &Logger{z: l.z.With().Int("fd", fd).Logger()}
}

// WithError returns a child logger carrying err on every subsequent line.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{z: l.z.With().Err(err).Logger()}
}

func (l *Logger) Debug(msg string) { l.z.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.z.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.z.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.z.Error().Msg(msg) }

// Debugf/Infof/Warnf/Errorf attach key-value pairs (alternating
// key, value, key, value, ...) rather than accepting a printf format,
// matching the structured-field style the rest of the zerolog-based
// fleet carries; an odd-length args slice drops its trailing element.
func (l *Logger) Debugf(msg string, args ...any) { l.withArgs(l.z.Debug(), args).Msg(msg) }
func (l *Logger) Infof(msg string, args ...any)  { l.withArgs(l.z.Info(), args).Msg(msg) }
func (l *Logger) Warnf(msg string, args ...any)  { l.withArgs(l.z.Warn(), args).Msg(msg) }
func (l *Logger) Errorf(msg string, args ...any) { l.withArgs(l.z.Error(), args).Msg(msg) }

func (l *Logger) withArgs(ev *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	return ev
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Default returns the process-wide default logger, creating it with
// DefaultConfig on first use.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(DefaultConfig())
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func Debug(msg string) { Default().Debug(msg) }
func Info(msg string)  { Default().Info(msg) }
func Warn(msg string)  { Default().Warn(msg) }
func Error(msg string) { Default().Error(msg) }
