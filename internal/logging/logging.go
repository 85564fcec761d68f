// Package logging wraps the standard library logger with the level filter
// shared by every stagehand component.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger is a leveled logger scoped to one component. Lines look like:
//
//	2026-01-02T15:04:05Z INFO lock_store: acquire resource=src/a.ts
type Logger struct {
	component string
	level     Level
	out       *log.Logger
}

func New(w io.Writer, level Level, component string) *Logger {
	return &Logger{
		component: component,
		level:     level,
		out:       log.New(w, "", 0),
	}
}

// WithComponent returns a logger sharing the sink and level under a new name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component, level: l.level, out: l.out}
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%s %s %s: %s", time.Now().UTC().Format(time.RFC3339), level, l.component, msg)
}
