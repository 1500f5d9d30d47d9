package core

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig configures a ProductionLogger's output format and level.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output string // stdout, stderr
}

// DevelopmentConfig tweaks output for local development (e.g. pretty
// printing). Kept as a distinct type from LoggingConfig so a future
// environment-detection helper can pick sensible defaults for each.
type DevelopmentConfig struct {
	Pretty bool
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ProductionLogger is a structured logger backed by zap, built by the
// embedding process and injected into components; a component given no
// logger falls back to NoOpLogger, not to this type. It satisfies both
// Logger and ComponentAwareLogger.
type ProductionLogger struct {
	mu        sync.Mutex
	base      *zap.Logger
	component string
}

// NewProductionLogger builds a ProductionLogger for the named component.
func NewProductionLogger(cfg LoggingConfig, dev DevelopmentConfig, component string) *ProductionLogger {
	var zcfg zap.Config
	if dev.Pretty {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "ts"
		zcfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	if strings.ToLower(cfg.Format) == "text" {
		zcfg.Encoding = "console"
	}
	if strings.ToLower(cfg.Output) == "stderr" {
		zcfg.OutputPaths = []string{"stderr"}
	} else if strings.ToLower(cfg.Output) != "" {
		zcfg.OutputPaths = []string{cfg.Output}
	}

	base, err := zcfg.Build()
	if err != nil {
		base = zap.NewNop()
	}
	if component != "" {
		base = base.With(zap.String("component", component))
	}
	return &ProductionLogger{base: base, component: component}
}

func (l *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{base: l.base.With(zap.String("component", component)), component: component}
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.base.Debug(msg, toZapFields(fields)...)
}
func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.base.Info(msg, toZapFields(fields)...)
}
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.base.Warn(msg, toZapFields(fields)...)
}
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.base.Error(msg, toZapFields(fields)...)
}

// contextFields extracts correlation identifiers carried on ctx (trace id,
// session id) so every context-aware log line can be grepped by request.
func contextFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	if id := ctx.Value(traceIDKey{}); id != nil {
		merged["trace_id"] = id
	}
	return merged
}

type traceIDKey struct{}

// WithTraceID attaches a correlation id to ctx for context-aware logging.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, contextFields(ctx, fields))
}
func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, contextFields(ctx, fields))
}
func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, contextFields(ctx, fields))
}
func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, contextFields(ctx, fields))
}
