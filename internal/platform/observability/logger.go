// Package observability builds the zap logger, request logging, panic recovery and tracing middleware.
package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/casacustomz/api/internal/platform/requestctx"
)

// NewLogger builds a JSON logger whose keys match Cloud Logging (severity, timestamp, message).
// Unknown or empty levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if trimmed := strings.ToLower(strings.TrimSpace(level)); trimmed != "" {
		if err := atomic.UnmarshalText([]byte(trimmed)); err != nil {
			atomic.SetLevel(zapcore.InfoLevel)
		}
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			NameKey:       "logger",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:   zapcore.CapitalLevelEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// EventLogger adapts a named zap logger to the func(ctx, event, fields) hook the services accept.
// The request logger on ctx wins so that request_id and trace_id travel with service events.
func EventLogger(base *zap.Logger, component string) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	named := base.Named(component)
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := named
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx).Named(component)
		}
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			if err, ok := v.(error); ok {
				zFields = append(zFields, zap.NamedError(k, err))
				continue
			}
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Log(eventLevel(event, fields), component+" event", zFields...)
	}
}

func eventLevel(event string, fields map[string]any) zapcore.Level {
	if _, ok := fields["error"]; ok {
		return zapcore.WarnLevel
	}
	switch {
	case strings.Contains(event, "unreconciled"), strings.Contains(event, "failed"):
		return zapcore.ErrorLevel
	case strings.Contains(event, "mismatch"), strings.Contains(event, "retry"):
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
