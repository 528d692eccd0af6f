// Package logging wraps zerolog with the device and request fields used
// across the echo queue.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// LogLevel is a zerolog level
type LogLevel = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// ParseLevel maps a level name ("debug", "info", "warn", "error") to a LogLevel
func ParseLevel(s string) (LogLevel, error) {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return LevelInfo, err
	}
	return lvl, nil
}

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	Sync    bool // write on the caller's goroutine instead of through a ring buffer
	NoColor bool
}

// DefaultConfig returns the configuration used by Default
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

const (
	ringSize     = 1000
	pollInterval = 10 * time.Millisecond
)

// Logger is a zerolog logger carrying echo device context. Loggers derived
// with the With* methods share their parent's output.
type Logger struct {
	zlog  zerolog.Logger
	flush func() error
}

// writerOnly hides io.Closer so closing the ring buffer never closes the
// underlying output (os.Stderr in particular)
type writerOnly struct{ io.Writer }

// NewLogger creates a logger. Unless config.Sync is set, records pass through
// a lock-free ring buffer that drops messages when full, so logging under the
// controller lock never blocks on output.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	l := &Logger{flush: func() error { return nil }}
	if !config.Sync {
		dw := diode.NewWriter(writerOnly{out}, ringSize, pollInterval, func(int) {})
		out = dw
		l.flush = dw.Close
	}

	if config.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: config.NoColor, TimeFormat: time.RFC3339Nano}
	}
	l.zlog = zerolog.New(out).Level(config.Level).With().Timestamp().Logger()
	return l
}

// Close drains buffered output. Only the logger returned by NewLogger needs
// closing; derived loggers share its buffer.
func (l *Logger) Close() error {
	if l.flush == nil {
		return nil
	}
	return l.flush()
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Default returns the process-wide logger, creating it on first use
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger
func SetDefault(logger *Logger) {
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

func (l *Logger) derive(ctx zerolog.Context) *Logger {
	return &Logger{zlog: ctx.Logger()}
}

// WithDevice adds the device ID to every record
func (l *Logger) WithDevice(deviceID int) *Logger {
	return l.derive(l.zlog.With().Int("device_id", deviceID))
}

// RequestLogger tags each event with a request ID and operation. Fields are
// added per event, so nothing is built for levels that are disabled.
type RequestLogger struct {
	l  *Logger
	id string
	op string
}

// ForRequest returns a RequestLogger for the given request
func (l *Logger) ForRequest(requestID, op string) RequestLogger {
	return RequestLogger{l: l, id: requestID, op: op}
}

func (r RequestLogger) tag(e *zerolog.Event) *zerolog.Event {
	return e.Str("request", r.id).Str("op", r.op)
}

func (r RequestLogger) Debug(msg string, args ...any) { fields(r.tag(r.l.zlog.Debug()), args).Msg(msg) }
func (r RequestLogger) Warn(msg string, args ...any)  { fields(r.tag(r.l.zlog.Warn()), args).Msg(msg) }
func (r RequestLogger) Error(msg string, args ...any) { fields(r.tag(r.l.zlog.Error()), args).Msg(msg) }

// WithError attaches err to every record
func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.zlog.With().Err(err))
}

// fields appends alternating key/value args. Non-string keys and a trailing
// key without a value are skipped.
func fields(e *zerolog.Event, args []any) *zerolog.Event {
	if e == nil {
		return nil
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if err, isErr := args[i+1].(error); isErr {
			e = e.AnErr(key, err)
		} else {
			e = e.Interface(key, args[i+1])
		}
	}
	return e
}

func (l *Logger) Debug(msg string, args ...any) { fields(l.zlog.Debug(), args).Msg(msg) }
func (l *Logger) Info(msg string, args ...any)  { fields(l.zlog.Info(), args).Msg(msg) }
func (l *Logger) Warn(msg string, args ...any)  { fields(l.zlog.Warn(), args).Msg(msg) }
func (l *Logger) Error(msg string, args ...any) { fields(l.zlog.Error(), args).Msg(msg) }
