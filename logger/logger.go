package logger

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
)

var levelNames = map[Level]string{
	LevelNone:    "none",
	LevelError:   "error",
	LevelWarning: "warning",
	LevelInfo:    "info",
	LevelDebug:   "debug",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel accepts a level name or its number.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range levelNames {
		if s == name || s == fmt.Sprint(int(l)) {
			return l, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown log level %q", s)
}

// Logger writes lines of the form "file:line LEVEL: message\r\n". A message
// is printed when the logger level is at least the message level.
type Logger struct {
	w     io.Writer
	level Level
}

// Discard drops everything.
var Discard = &Logger{w: io.Discard, level: LevelNone}

func New(w io.Writer, level Level) *Logger {
	return &Logger{w: w, level: level}
}

// SetLevel returns the previous level.
func (l *Logger) SetLevel(level Level) Level {
	prev := l.level
	l.level = level
	return prev
}

func (l *Logger) Level() Level {
	return l.level
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && level != LevelNone && l.level >= level
}

func (l *Logger) logf(level Level, tag string, format string, params ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	l.output(tag, format, params...)
}

func (l *Logger) output(tag string, format string, params ...interface{}) {
	file, line := "???", 0
	if _, f, n, ok := runtime.Caller(3); ok {
		file, line = filepath.Base(f), n
	}
	fmt.Fprintf(l.w, "%s:%d %s: ", file, line, tag)
	fmt.Fprintf(l.w, format, params...)
	io.WriteString(l.w, "\r\n")
}

// Errorf prints the message at LevelError.
func (l *Logger) Errorf(format string, params ...interface{}) {
	l.logf(LevelError, "ERROR", format, params...)
}

// Warningf prints the message at LevelWarning.
func (l *Logger) Warningf(format string, params ...interface{}) {
	l.logf(LevelWarning, "WARNING", format, params...)
}

// Infof prints the message at LevelInfo.
func (l *Logger) Infof(format string, params ...interface{}) {
	l.logf(LevelInfo, "INFO", format, params...)
}

// Debugf prints the message at LevelDebug.
func (l *Logger) Debugf(format string, params ...interface{}) {
	l.logf(LevelDebug, "DEBUG", format, params...)
}

// Fatalf prints the message whatever the level is set to.
func (l *Logger) Fatalf(format string, params ...interface{}) {
	if l == nil || l.w == nil {
		return
	}
	l.always("FATAL", format, params...)
}

func (l *Logger) always(tag string, format string, params ...interface{}) {
	l.output(tag, format, params...)
}
