// Package logging provides the minimal printf-style logging contract used
// across the command center, plus component-scoped loggers backed by a
// shared leveled writer.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name into a Level, defaulting to info.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var (
	baseInstance *baseLogger
	baseOnce     sync.Once
)

// baseLogger is the shared leveled writer behind every component logger.
type baseLogger struct {
	mu     sync.Mutex
	out    *log.Logger
	file   *os.File
	level  Level
	caller bool
}

func newBase() *baseLogger {
	b := &baseLogger{
		out:    log.New(os.Stderr, "", 0),
		level:  LevelInfo,
		caller: true,
	}

	path := strings.TrimSpace(os.Getenv("COMMAND_CENTER_LOG_FILE"))
	if path == "" {
		return b
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("failed to open log file %s: %v", path, err)
		return b
	}
	b.file = file
	b.out = log.New(io.MultiWriter(os.Stderr, file), "", 0)
	return b
}

func base() *baseLogger {
	baseOnce.Do(func() {
		baseInstance = newBase()
	})
	return baseInstance
}

// SetLevel sets the minimum level for all component loggers.
func SetLevel(level Level) {
	b := base()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = level
}

// Close closes the shared log file, if one was configured.
func Close() error {
	b := base()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		return b.file.Close()
	}
	return nil
}

func (b *baseLogger) log(level Level, component, format string, args ...any) {
	b.mu.Lock()
	if level < b.level {
		b.mu.Unlock()
		return
	}
	caller := ""
	if b.caller {
		if _, file, line, ok := runtime.Caller(3); ok {
			caller = fmt.Sprintf(" %s:%d", filepath.Base(file), line)
		}
	}
	msg := fmt.Sprintf(format, args...)
	b.out.Printf("%s [%s] [%s]%s %s",
		time.Now().Format("2006-01-02 15:04:05.000"), level, component, caller, msg)
	b.mu.Unlock()
}

// componentLogger scopes the base logger to a named component.
type componentLogger struct {
	component string
}

// NewComponentLogger creates a logger for a specific component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component}
}

func (c *componentLogger) Debug(format string, args ...any) {
	base().log(LevelDebug, c.component, format, args...)
}

func (c *componentLogger) Info(format string, args ...any) {
	base().log(LevelInfo, c.component, format, args...)
}

func (c *componentLogger) Warn(format string, args ...any) {
	base().log(LevelWarn, c.component, format, args...)
}

func (c *componentLogger) Error(format string, args ...any) {
	base().log(LevelError, c.component, format, args...)
}

