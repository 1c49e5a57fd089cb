// Package logger is the structured logging facade. The default backend is
// logrus; LOG_BACKEND=zap switches to a sugared zap logger.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"trip-planner/internal/shared/contextkeys"

	"github.com/sirupsen/logrus"
)

const (
	logFormatJSON = "json"
	logFormatText = "text"

	backendLogrus = "logrus"
	backendZap    = "zap"

	timestampFormat = "2006-01-02T15:04:05.000Z07:00"
	textTimestamp   = "2006-01-02 15:04:05"
)

// Logger defines the interface for structured logging operations
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger
}

// levelNames maps configured levels, including the numeric 0..3 scale, to logrus
var levelNames = map[string]logrus.Level{
	"3":       logrus.DebugLevel,
	"DEBUG":   logrus.DebugLevel,
	"2":       logrus.InfoLevel,
	"INFO":    logrus.InfoLevel,
	"WARN":    logrus.WarnLevel,
	"WARNING": logrus.WarnLevel,
	"1":       logrus.ErrorLevel,
	"ERROR":   logrus.ErrorLevel,
	"FATAL":   logrus.FatalLevel,
}

// ParseLevel maps a configured level to logrus. "none" and "0" are silent;
// anything unknown is info.
func ParseLevel(level string) (lvl logrus.Level, silent bool) {
	name := strings.ToUpper(strings.TrimSpace(level))
	if name == "NONE" || name == "0" {
		return logrus.PanicLevel, true
	}
	if lvl, ok := levelNames[name]; ok {
		return lvl, false
	}
	return logrus.InfoLevel, false
}

// NewLogger reads LOG_LEVEL, LOG_FORMAT and LOG_BACKEND. ENVIRONMENT=production
// forces json.
func NewLogger() Logger {
	format := os.Getenv("LOG_FORMAT")
	switch os.Getenv("ENVIRONMENT") {
	case "production", "prod":
		format = logFormatJSON
	}
	return NewLoggerWithConfig(os.Getenv("LOG_LEVEL"), format, os.Getenv("LOG_BACKEND"))
}

// NewLoggerWithConfig builds a logger writing to stdout
func NewLoggerWithConfig(level string, format string, backend string) Logger {
	if strings.EqualFold(backend, backendZap) {
		return newZapLogger(level, format)
	}
	return newLogrusLogger(level, format, os.Stdout)
}

// NewNopLogger discards everything
func NewNopLogger() Logger {
	return newLogrusLogger("none", logFormatText, io.Discard)
}

// LogrusLogger implements Logger on a logrus entry
type LogrusLogger struct {
	entry *logrus.Entry
}

func newLogrusLogger(level, format string, out io.Writer) *LogrusLogger {
	l := logrus.New()
	lvl, silent := ParseLevel(level)
	l.SetLevel(lvl)
	if silent {
		out = io.Discard
	}
	l.SetOutput(out)

	if format == logFormatJSON {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: textTimestamp})
	}
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *LogrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *LogrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *LogrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }
func (l *LogrusLogger) Fatal(args ...interface{}) { l.entry.Fatal(args...) }

func (l *LogrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *LogrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *LogrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *LogrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *LogrusLogger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// WithFields returns a child logger carrying fields
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithContext returns a child logger carrying the request fields stored in ctx
func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	return l.WithFields(contextFields(ctx))
}

// WithComponent returns a child logger tagged with component
func (l *LogrusLogger) WithComponent(component string) Logger {
	return &LogrusLogger{entry: l.entry.WithField("component", component)}
}

// contextFieldNames lists the context values copied into log fields
var contextFieldNames = []struct {
	key   interface{}
	field string
}{
	{contextkeys.UserIDKey, "user_id"},
	{contextkeys.UserRoleKey, "user_role"},
	{contextkeys.RequestIDKey, "request_id"},
	{contextkeys.ComponentKey, "component"},
	{contextkeys.OperationKey, "operation"},
	{contextkeys.PathKey, "path"},
}

func contextFields(ctx context.Context) map[string]interface{} {
	fields := map[string]interface{}{}
	if ctx == nil {
		return fields
	}
	for _, f := range contextFieldNames {
		if s, ok := ctx.Value(f.key).(string); ok && s != "" {
			fields[f.field] = s
		}
	}
	return fields
}
