package core

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements Logger and ComponentAwareLogger on top of zap.
// WithContext variants attach trace and span ids when the context carries
// a recording span, so log lines can be joined with exported traces.
type ZapLogger struct {
	base        *zap.Logger
	serviceName string
	component   string
}

// NewZapLogger builds a logger from the logging section of the config.
// Format "json" selects the production encoder, anything else the console encoder.
func NewZapLogger(cfg LoggingConfig, serviceName string) (*ZapLogger, error) {
	var zc zap.Config
	if strings.EqualFold(cfg.Format, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, ErrInvalidConfiguration)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	switch cfg.Output {
	case "", "stdout":
		zc.OutputPaths = []string{"stdout"}
	case "stderr":
		zc.OutputPaths = []string{"stderr"}
	default:
		zc.OutputPaths = []string{cfg.Output}
	}

	base, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if serviceName != "" {
		base = base.With(zap.String("service", serviceName))
	}
	return &ZapLogger{base: base, serviceName: serviceName}, nil
}

// NewZapLoggerFrom wraps an existing zap logger. Used by tests with zaptest/observer.
func NewZapLoggerFrom(base *zap.Logger) *ZapLogger {
	return &ZapLogger{base: base}
}

// WithComponent returns a logger whose records carry the component field.
func (l *ZapLogger) WithComponent(component string) Logger {
	return &ZapLogger{
		base:        l.base.With(zap.String("component", component)),
		serviceName: l.serviceName,
		component:   component,
	}
}

// Sync flushes buffered records. Errors from syncing a terminal are ignored.
func (l *ZapLogger) Sync() error {
	err := l.base.Sync()
	if err != nil && isTerminalSyncError(err) {
		return nil
	}
	return err
}

func (l *ZapLogger) Info(msg string, fields map[string]interface{}) {
	l.base.Info(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields map[string]interface{}) {
	l.base.Error(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	l.base.Warn(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	l.base.Debug(msg, toZapFields(fields)...)
}

func (l *ZapLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.base.Info(msg, withTrace(ctx, toZapFields(fields))...)
}

func (l *ZapLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.base.Error(msg, withTrace(ctx, toZapFields(fields))...)
}

func (l *ZapLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.base.Warn(msg, withTrace(ctx, toZapFields(fields))...)
}

func (l *ZapLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.base.Debug(msg, withTrace(ctx, toZapFields(fields))...)
}

// toZapFields converts a field map into zap fields with a stable key order.
func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys)+2)
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

func withTrace(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return fields
	}
	return append(fields,
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

func isTerminalSyncError(err error) bool {
	// stdout/stderr on a tty or pipe reject fsync with EINVAL or ENOTTY
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "inappropriate ioctl") ||
		strings.Contains(msg, os.Stdout.Name())
}
