// Package logx provides structured logging for the sitegate engine
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides structured JSON logging
type Logger struct {
	level LogLevel
	entry *logrus.Entry
}

// New creates a new structured logger writing to stdout
func New(levelStr string) *Logger {
	return NewWithOutput(levelStr, os.Stdout)
}

// NewWithOutput creates a structured logger writing to w
func NewWithOutput(levelStr string, w io.Writer) *Logger {
	level := parseLevel(levelStr)

	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(logrusLevel(level))
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
		},
	})

	return &Logger{
		level: level,
		entry: logrus.NewEntry(base),
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return NewWithOutput("error", io.Discard)
}

// WithComponent returns a child logger stamping every entry with component
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		level: l.level,
		entry: l.entry.WithField("component", name),
	}
}

// parseLevel converts string to LogLevel
func parseLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func logrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// levelString converts LogLevel to string
func levelString(level LogLevel) string {
	switch level {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// fields turns key/value pairs (or a single field map) into logrus fields
func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	if len(keysAndValues) == 1 {
		if m, ok := keysAndValues[0].(map[string]interface{}); ok {
			for k, v := range m {
				f[k] = v
			}
			return f
		}
	}

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		value := keysAndValues[i+1]
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		f[key] = value
	}
	return f
}

// log outputs a structured log entry
func (l *Logger) log(level LogLevel, msg string, keysAndValues ...interface{}) {
	if l == nil || level < l.level {
		return
	}

	e := l.entry.WithFields(fields(keysAndValues))
	switch level {
	case DebugLevel:
		e.Debug(msg)
	case InfoLevel:
		e.Info(msg)
	case WarnLevel:
		e.Warn(msg)
	default:
		e.Error(msg)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(DebugLevel, msg, keysAndValues...)
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(InfoLevel, msg, keysAndValues...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(WarnLevel, msg, keysAndValues...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(ErrorLevel, msg, keysAndValues...)
}

// Level returns the configured level name
func (l *Logger) Level() string {
	return levelString(l.level)
}
