package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

// LogLevel is the minimum severity a Logger emits.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return levelNames[InfoLevel]
}

func (l LogLevel) slog() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ParseLogLevel maps a level name to a LogLevel. Unknown names mean info.
func ParseLogLevel(level string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(level))
	if name == "WARNING" {
		return WarnLevel
	}
	for l, n := range levelNames {
		if n == name {
			return l
		}
	}
	return InfoLevel
}

// Logger writes JSON lines through slog. Derived loggers share the handler.
type Logger struct {
	logger *slog.Logger
	level  LogLevel
}

// NewLogger writes to output, or stdout when output is nil.
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	h := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level.slog()})
	return &Logger{logger: slog.New(h), level: level}
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return NewLogger(ErrorLevel, io.Discard)
}

func (l *Logger) Level() LogLevel { return l.level }

func (l *Logger) with(args ...interface{}) *Logger {
	return &Logger{logger: l.logger.With(args...), level: l.level}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(key, value)
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// WithError attaches err under "error". A nil err returns l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func (l *Logger) Debug(msg string) { l.logger.Debug(msg) }
func (l *Logger) Info(msg string) { l.logger.Info(msg) }
func (l *Logger) Warn(msg string) { l.logger.Warn(msg) }
func (l *Logger) Error(msg string) { l.logger.Error(msg) }
func (l *Logger) Debugf(f string, args ...interface{}) { l.logger.Debug(fmt.Sprintf(f, args...)) }
func (l *Logger) Infof(f string, args ...interface{}) { l.logger.Info(fmt.Sprintf(f, args...)) }
func (l *Logger) Warnf(f string, args ...interface{}) { l.logger.Warn(fmt.Sprintf(f, args...)) }
func (l *Logger) Errorf(f string, args ...interface{}) { l.logger.Error(fmt.Sprintf(f, args...)) }

// WithLogger stores logger on ctx for FromContext.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// GetLogger returns the logger stored on ctx, or an info logger on stdout.
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger(InfoLevel, os.Stdout)
}

// FromContext returns the request logger tagged with the request id and the
// acting principal, when present.
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)
	if id := contextkeys.GetRequestID(ctx); id != "" {
		logger = logger.with("request_id", id)
	}
	if p := contextkeys.GetPrincipal(ctx); p != nil {
		logger = logger.with("user_id", p.UserID, "company_id", p.CompanyID, "role", p.Role)
	}
	return logger
}
