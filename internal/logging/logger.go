package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents a log severity level.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// sink is shared by a root logger and every child created with Named, so a
// level or output change on any of them applies to all.
type sink struct {
	mu    sync.Mutex
	level Level
	inner *log.Logger
}

// Logger provides leveled logging with an optional component name that is
// prepended to every message.
type Logger struct {
	s    *sink
	name string
}

var defaultLogger = New(os.Stderr, INFO)

// New returns a root logger writing to w at the given minimum level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{s: &sink{level: level, inner: log.New(w, "", log.LstdFlags)}}
}

// Default returns the package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// Named returns a child logger whose messages are tagged with name.
// Nested names are joined with a dot.
func (l *Logger) Named(name string) *Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return &Logger{s: l.s, name: name}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.level = level
}

// SetOutput redirects log output.
func (l *Logger) SetOutput(w io.Writer) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.inner.SetOutput(w)
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs a message at INFO level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if level < l.s.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if l.name != "" {
		l.s.inner.Printf("[%s] %s: %s", level, l.name, msg)
		return
	}
	l.s.inner.Printf("[%s] %s", level, msg)
}

// ParseLevel converts a string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}
