// Package observability holds the logging and tracing plumbing shared by the
// MCP client, the tools provider and the CLI.
package observability

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

const (
	// ErrorLogField is the key used for error fields in logs
	ErrorLogField string = "error"
)

// Level is the minimum severity a logger emits.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel converts a textual level ("debug", "info", "warn", "error") to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "info"
	}
}

// Logger interface - defines the common logging methods
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithErr(err error) Logger
}

// DefaultLogger - a basic implementation using Go's standard log package
type DefaultLogger struct {
	logger *log.Logger
	level  Level
	fields map[string]interface{}
	err    error
	mu     *sync.Mutex
}

// NewDefaultLogger creates a new DefaultLogger that logs to standard error.
// Standard output is left alone because stdio peers use it as a protocol channel.
func NewDefaultLogger() Logger {
	return NewDefaultLoggerWithWriter(os.Stderr, InfoLevel)
}

// NewDefaultLoggerWithWriter creates a DefaultLogger writing to w at the given level.
func NewDefaultLoggerWithWriter(w io.Writer, level Level) Logger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
		fields: make(map[string]interface{}),
		mu:     &sync.Mutex{},
	}
}

func (l *DefaultLogger) Debugf(format string, args ...interface{}) {
	l.write(DebugLevel, fmt.Sprintf(format, args...))
}
func (l *DefaultLogger) Infof(format string, args ...interface{}) {
	l.write(InfoLevel, fmt.Sprintf(format, args...))
}
func (l *DefaultLogger) Warnf(format string, args ...interface{}) {
	l.write(WarnLevel, fmt.Sprintf(format, args...))
}
func (l *DefaultLogger) Errorf(format string, args ...interface{}) {
	l.write(ErrorLevel, fmt.Sprintf(format, args...))
}

func (l *DefaultLogger) Debug(args ...interface{}) { l.write(DebugLevel, fmt.Sprint(args...)) }
func (l *DefaultLogger) Info(args ...interface{})  { l.write(InfoLevel, fmt.Sprint(args...)) }
func (l *DefaultLogger) Warn(args ...interface{})  { l.write(WarnLevel, fmt.Sprint(args...)) }
func (l *DefaultLogger) Error(args ...interface{}) { l.write(ErrorLevel, fmt.Sprint(args...)) }

// WithFields - allows adding structured fields to the log
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	newLogger := &DefaultLogger{
		logger: l.logger,
		level:  l.level,
		fields: make(map[string]interface{}, len(l.fields)+len(fields)),
		err:    l.err,
		mu:     l.mu,
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	for k, v := range fields {
		newLogger.fields[k] = v
	}
	return newLogger
}

// WithContext - No-op for DefaultLogger. Returns itself.
func (l *DefaultLogger) WithContext(ctx context.Context) Logger {
	return l
}

// WithErr - allows adding an error to the log
func (l *DefaultLogger) WithErr(err error) Logger {
	return &DefaultLogger{
		logger: l.logger,
		level:  l.level,
		fields: l.fields,
		err:    err,
		mu:     l.mu,
	}
}

func (l *DefaultLogger) write(level Level, msg string) {
	if level < l.level {
		return
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
	}
	if l.err != nil {
		parts = append(parts, fmt.Sprintf("%s=%v", ErrorLogField, l.err))
	}

	line := fmt.Sprintf("[%s] %s", strings.ToUpper(level.String()), msg)
	if len(parts) > 0 {
		line += " " + strings.Join(parts, " ")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Print(line)
}

// NullLogger - a logger that does nothing
type NullLogger struct{}

// NewNullLogger creates a new NullLogger
func NewNullLogger() Logger {
	return &NullLogger{}
}

func (l *NullLogger) Debugf(format string, args ...interface{}) {}
func (l *NullLogger) Infof(format string, args ...interface{})  {}
func (l *NullLogger) Warnf(format string, args ...interface{})  {}
func (l *NullLogger) Errorf(format string, args ...interface{}) {}

func (l *NullLogger) Debug(args ...interface{}) {}
func (l *NullLogger) Info(args ...interface{})  {}
func (l *NullLogger) Warn(args ...interface{})  {}
func (l *NullLogger) Error(args ...interface{}) {}

func (l *NullLogger) WithFields(fields map[string]interface{}) Logger { return l }
func (l *NullLogger) WithContext(ctx context.Context) Logger          { return l }
func (l *NullLogger) WithErr(err error) Logger                        { return l }
