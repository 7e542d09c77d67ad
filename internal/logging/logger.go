// Package logging wraps log/slog behind the leveled logger contract every
// noisedsp component depends on: Trace/Debug/Info/Warn/Error, SetLevel/Level,
// and With for acquiring a child logger tagged with extra context. The
// server half of the teacher repo logs exclusively through a single
// structured *slog.Logger; this package generalizes that convention into a
// reusable type instead of a package-level default.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Level mirrors the closed TRACE < DEBUG < INFO < WARN < ERROR < SILENT
// ordering. slog has no native Trace or Silent level, so both are modeled
// as slog.Level offsets: Trace sits 8 below Debug, Silent sits 8 above
// Error, keeping every standard slog level reachable at its usual value.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelTrace:
		return slog.LevelDebug - 8
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelSilent:
		return slog.LevelError + 8
	default:
		return slog.LevelInfo
	}
}

// Logger wraps a *slog.Logger with a mutable minimum level. The zero value
// is not usable directly; use New or Default. A nil *Logger is safe to call
// methods on — each falls back to slog.Default() — so components that embed
// an optional logger never need a nil check before logging.
type Logger struct {
	base  *slog.Logger
	level *levelVar
}

type levelVar struct {
	programmable *slog.LevelVar
}

// New builds a Logger at the given initial level, writing to w via slog's
// text handler (matching the teacher's unstructured-terminal default; JSON
// output is a caller concern, not this library's).
func New(w *os.File, level Level) *Logger {
	lv := &slog.LevelVar{}
	lv.Set(level.slogLevel())
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	return &Logger{base: slog.New(handler), level: &levelVar{programmable: lv}}
}

// Default returns a Logger backed by slog.Default() at INFO.
func Default() *Logger {
	lv := &slog.LevelVar{}
	lv.Set(LevelInfo.slogLevel())
	return &Logger{base: slog.Default(), level: &levelVar{programmable: lv}}
}

func (l *Logger) resolve() *slog.Logger {
	if l == nil || l.base == nil {
		return slog.Default()
	}
	return l.base
}

// SetLevel changes the minimum level logged. No-op on a nil Logger.
func (l *Logger) SetLevel(level Level) {
	if l == nil || l.level == nil {
		return
	}
	l.level.programmable.Set(level.slogLevel())
}

// Level returns the logger's approximate current minimum level, rounded to
// the nearest named Level.
func (l *Logger) Level() Level {
	if l == nil || l.level == nil {
		return LevelInfo
	}
	switch {
	case l.level.programmable.Level() <= LevelTrace.slogLevel():
		return LevelTrace
	case l.level.programmable.Level() <= LevelDebug.slogLevel():
		return LevelDebug
	case l.level.programmable.Level() <= LevelInfo.slogLevel():
		return LevelInfo
	case l.level.programmable.Level() <= LevelWarn.slogLevel():
		return LevelWarn
	case l.level.programmable.Level() <= LevelError.slogLevel():
		return LevelError
	default:
		return LevelSilent
	}
}

// With returns a new child Logger whose context is the parent's merged with
// kv. The parent's context is untouched — callers acquire children by value
// and never store them back onto the parent. The child shares the parent's
// level setting: SetLevel on either changes both.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{base: l.resolve().With(kv...), level: l.level}
}

func (l *Logger) Trace(msg string, kv ...any) {
	l.resolve().Log(context.Background(), LevelTrace.slogLevel(), msg, kv...)
}

func (l *Logger) Debug(msg string, kv ...any) {
	l.resolve().Debug(msg, kv...)
}

func (l *Logger) Info(msg string, kv ...any) {
	l.resolve().Info(msg, kv...)
}

func (l *Logger) Warn(msg string, kv ...any) {
	l.resolve().Warn(msg, kv...)
}

func (l *Logger) Error(msg string, kv ...any) {
	l.resolve().Error(msg, kv...)
}
