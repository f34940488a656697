// Package logging provides structured component logging for clash.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Options configures the process-wide backend.
type Options struct {
	Level Level
	// JSON selects the JSON encoder; otherwise the console encoder is used
	JSON   bool
	Output io.Writer
}

var (
	baseMu sync.RWMutex
	base   = build(Options{Level: LevelInfo, JSON: true})
)

func build(opts Options) *zap.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "event"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	var enc zapcore.Encoder
	if opts.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), opts.Level.zap())
	return zap.New(core)
}

// Configure replaces the process-wide backend. Loggers created earlier pick it up.
func Configure(opts Options) {
	l := build(opts)
	baseMu.Lock()
	base = l
	baseMu.Unlock()
}

// Sync flushes any buffered entries.
func Sync() error {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base.Sync()
}

func backend() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Logger provides structured logging scoped to a component
type Logger struct {
	component string
	session   string
	request   string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{component: component}
}

// WithSession tags every event with a session ID
func (l *Logger) WithSession(session string) *Logger {
	c := *l
	c.session = session
	return &c
}

func (l *Logger) fields(extra map[string]interface{}, err error) []zap.Field {
	fields := make([]zap.Field, 0, 5)
	fields = append(fields, zap.String("component", l.component))
	if l.session != "" {
		fields = append(fields, zap.String("session", l.session))
	}
	if l.request != "" {
		fields = append(fields, zap.String("request_id", l.request))
	}
	if len(extra) > 0 {
		fields = append(fields, zap.Any("extra", extra))
	}
	if err != nil {
		fields = append(fields, zap.String("error", err.Error()))
	}
	return fields
}

func (l *Logger) log(level Level, event string, extra map[string]interface{}, err error) {
	if ce := backend().Check(level.zap(), event); ce != nil {
		ce.Write(l.fields(extra, err)...)
	}
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	if ce := backend().Check(zapcore.InfoLevel, event); ce != nil {
		fields := l.fields(extra, nil)
		fields = append(fields, zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		ce.Write(fields...)
	}
}
