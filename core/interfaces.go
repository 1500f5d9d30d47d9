// Package core holds the small set of cross-cutting contracts (logging,
// error taxonomy) shared by every other package in this module. It
// intentionally carries no domain types: session/step/runbook entities
// live in the domain package.
package core

import "context"

// Logger is the minimal structured-logging interface implementations must
// satisfy. Field maps, not Printf verbs, so logs stay machine-parseable.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a subsystem tag its own log lines with a
// component name (e.g. "executor", "connectors/ssh") without threading a
// separate parameter through every call site.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Used as a safe zero-value default so
// components never need a nil check before logging.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                             {}
func (NoOpLogger) Error(string, map[string]interface{})                            {}
func (NoOpLogger) Warn(string, map[string]interface{})                             {}
func (NoOpLogger) Debug(string, map[string]interface{})                            {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}
