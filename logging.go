package loom

// logging.go defines the structured logging sink collaborator from
// spec.md §6, backed by go.uber.org/zap (grounded in arena-cache's
// config.go, which threads a *zap.Logger with a zap.NewNop() default).
// bark.AddTrace, the teacher's panic-boundary helper, decorates the
// handful of internal invariant violations that reach a panic rather
// than an error return (see scheduler.go) — it is not itself
// a logging sink.

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel mirrors spec.md §6's Trace..Error scale.
type LogLevel int

const (
	LogTrace LogLevel = iota
	LogDebug
	LogInfo
	LogWarn
	LogError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogTrace, LogDebug:
		return zapcore.DebugLevel
	case LogInfo:
		return zapcore.InfoLevel
	case LogWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// LogEvent is one structured log entry.
type LogEvent struct {
	Level         LogLevel
	Op            EcsOperation
	Entity        EntityID
	HasEntity     bool
	ComponentName string
	CorrelationID string
	Message       string
}

// Logger is the logging sink contract. A NullLogger must be an empty,
// branchless no-op (spec.md §6).
type Logger interface {
	Log(event LogEvent)
}

// NullLogger discards every event without any conditional branching.
type NullLogger struct{}

func (NullLogger) Log(LogEvent) {}

// ZapLogger adapts a *zap.Logger to the Logger contract.
type ZapLogger struct {
	z *zap.Logger
}

// NewZapLogger wraps z. Passing nil yields zap.NewNop(), matching
// arena-cache's defaultConfig() default.
func NewZapLogger(z *zap.Logger) *ZapLogger {
	if z == nil {
		z = zap.NewNop()
	}
	return &ZapLogger{z: z}
}

func (l *ZapLogger) Log(event LogEvent) {
	fields := make([]zap.Field, 0, 4)
	fields = append(fields, zap.Stringer("operation", event.Op))
	if event.HasEntity {
		fields = append(fields, zap.Stringer("entity", event.Entity))
	}
	if event.ComponentName != "" {
		fields = append(fields, zap.String("component", event.ComponentName))
	}
	if event.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", event.CorrelationID))
	}
	l.z.Check(event.Level.zapLevel(), event.Message).Write(fields...)
}
