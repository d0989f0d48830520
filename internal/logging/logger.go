// Package logging provides structured logging with trace ID support.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID.
	TraceIDKey ContextKey = "trace_id"
	// ActorIDKey is the context key for the acting user ID.
	ActorIDKey ContextKey = "actor_id"
	// RoleKey is the context key for the actor's role.
	RoleKey ContextKey = "role"
	// InstitutionIDKey is the context key for tenant scoping.
	InstitutionIDKey ContextKey = "institution_id"
)

// Logger wraps logrus.Logger with domain-aware helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a new Logger instance.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger:    logger,
		component: component,
	}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT.
// Defaults to "info" and "json" when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext creates a logger entry carrying standard context fields.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if actorID := ctx.Value(ActorIDKey); actorID != nil {
		entry = entry.WithField("actor_id", actorID)
	}
	if role := ctx.Value(RoleKey); role != nil {
		entry = entry.WithField("role", role)
	}
	if institutionID := ctx.Value(InstitutionIDKey); institutionID != nil {
		entry = entry.WithField("institution_id", institutionID)
	}

	return entry
}

// SetOutput sets the logger output.
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithActor adds actor identity fields to the context.
func WithActor(ctx context.Context, actorID, role, institutionID string) context.Context {
	ctx = context.WithValue(ctx, ActorIDKey, actorID)
	ctx = context.WithValue(ctx, RoleKey, role)
	return context.WithValue(ctx, InstitutionIDKey, institutionID)
}

// LogTransition logs a state-machine transition attempt.
func (l *Logger) LogTransition(ctx context.Context, aggregateType, aggregateID, from, to string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"aggregate_type": aggregateType,
		"aggregate_id":   aggregateID,
		"from_state":     from,
		"to_state":       to,
	})
	if err != nil {
		entry.WithError(err).Warn("transition rejected")
		return
	}
	entry.Info("transition applied")
}

// LogAuditAppend logs an append to the event log.
func (l *Logger) LogAuditAppend(ctx context.Context, aggregateType, aggregateID, action string, sequence int64, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"aggregate_type": aggregateType,
		"aggregate_id":   aggregateID,
		"action":         action,
		"sequence":       sequence,
		"audit":          true,
	})
	if err != nil {
		entry.WithError(err).Error("audit append failed")
		return
	}
	entry.Debug("audit event appended")
}

// Global default logger, lazily initialized.
var defaultLogger *Logger

// Default returns a process-wide fallback logger.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = NewFromEnv("moot-session-engine")
	}
	return defaultLogger
}
