package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/southernsense/storefront/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// EventLogger is the logging contract shared by services, repositories and payment providers.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// NewLogger constructs a JSON zap logger using Cloud Logging field names.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil || strings.TrimSpace(level) == "" {
		_ = atomic.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             atomic,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	return cfg.Build()
}

// NewEventLogger adapts zap to the EventLogger contract. Events ending in "failed", "error" or
// "required" are written at error level, "degraded", "rejected", "corrupt" and "mismatch" at warn,
// everything else at info. Personal fields are masked before they reach the log.
func NewEventLogger(base *zap.Logger, component string) EventLogger {
	if base == nil {
		base = zap.NewNop()
	}
	base = base.With(zap.String("component", component))
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		} else {
			logger = logger.With(zap.String("component", component))
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range RedactFields(fields) {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		switch {
		case strings.HasSuffix(event, "failed"), strings.HasSuffix(event, "error"), strings.HasSuffix(event, "required"):
			logger.Error(event, zapFields...)
		case strings.HasSuffix(event, "degraded"), strings.HasSuffix(event, "rejected"),
			strings.HasSuffix(event, "corrupt"), strings.HasSuffix(event, "mismatch"):
			logger.Warn(event, zapFields...)
		default:
			logger.Info(event, zapFields...)
		}
	}
}
