// Package logging is the kernel's single structured log sink, with
// levels DEBUG, INFO, OK, WARN, ERROR and named child loggers. It wraps
// go.uber.org/zap; the bridge is constructed once and passed down,
// never reached for as a package global.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is one of the five levels the kernel recognizes. OK has no zap
// equivalent, so it is modeled as Info with an "ok" field set.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelOK
	LevelWarn
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default: // LevelInfo, LevelOK
		return zapcore.InfoLevel
	}
}

// ParseLevel parses a level name, case-insensitively. Unrecognized names
// return LevelInfo and ok=false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "OK":
		return LevelOK, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// Bridge is the process-wide log sink. It is constructed once by the
// kernel and handed out as named children; nothing in this package
// reaches for a package-level global.
type Bridge struct {
	base    *zap.Logger
	minimum Level
}

// New builds a Bridge around base, enforcing a minimum level as a
// floor: any call below it is dropped before it reaches zap. An env
// value equal to "development" selects DEBUG as the default minimum,
// otherwise INFO; ADC_LOG_LEVEL overrides either.
func New(base *zap.Logger, env string) *Bridge {
	min := LevelInfo
	if strings.EqualFold(env, "development") {
		min = LevelDebug
	}
	if override, ok := ParseLevel(os.Getenv("ADC_LOG_LEVEL")); ok {
		min = override
	}
	return &Bridge{base: base, minimum: min}
}

// Named returns a child logger scoped to namespace. Child loggers share
// the bridge's minimum level.
func (b *Bridge) Named(namespace string) *Logger {
	return &Logger{bridge: b, zap: b.base.Named(namespace), namespace: namespace}
}

func (b *Bridge) enabled(l Level) bool { return l >= b.minimum }

// Logger is a namespace-scoped handle returned by Bridge.Named. Modules
// and kernel components receive a *Logger at construction time rather
// than looking one up by type name.
type Logger struct {
	bridge    *Bridge
	zap       *zap.Logger
	namespace string
}

func (l *Logger) log(level Level, message string, fields ...zap.Field) {
	if !l.bridge.enabled(level) {
		return
	}
	switch level {
	case LevelDebug:
		l.zap.Debug(message, fields...)
	case LevelOK:
		l.zap.Info(message, append(fields, zap.Bool("ok", true))...)
	case LevelWarn:
		l.zap.Warn(message, fields...)
	case LevelError:
		l.zap.Error(message, fields...)
	default:
		l.zap.Info(message, fields...)
	}
}

func (l *Logger) Debug(message string, fields ...zap.Field) { l.log(LevelDebug, message, fields...) }
func (l *Logger) Info(message string, fields ...zap.Field)  { l.log(LevelInfo, message, fields...) }
func (l *Logger) OK(message string, fields ...zap.Field)    { l.log(LevelOK, message, fields...) }
func (l *Logger) Warn(message string, fields ...zap.Field)  { l.log(LevelWarn, message, fields...) }
func (l *Logger) Error(message string, fields ...zap.Field) { l.log(LevelError, message, fields...) }

// Named returns a grandchild logger, e.g. for a foreign child's derived
// namespace ("<parent>.<module>@<version>").
func (l *Logger) Named(namespace string) *Logger {
	return &Logger{bridge: l.bridge, zap: l.zap.Named(namespace), namespace: l.namespace + "." + namespace}
}

// logLinePrefixes matches child stderr lines of the form "[LEVEL] text".
var logLinePrefixes = map[string]Level{
	"[DEBUG]": LevelDebug,
	"[INFO]":  LevelInfo,
	"[OK]":    LevelOK,
	"[WARN]":  LevelWarn,
	"[ERROR]": LevelError,
}

// EmitChildLine re-emits a child-process stderr line under this logger's
// namespace. Lines matching "^\[(DEBUG|INFO|OK|WARN|ERROR)\]\s+(.*)" are
// emitted at the matching level; anything else is emitted verbatim at
// INFO.
func (l *Logger) EmitChildLine(line string) {
	trimmed := strings.TrimSpace(line)
	for prefix, level := range logLinePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			msg := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
			l.log(level, msg)
			return
		}
	}
	l.log(LevelInfo, trimmed)
}
