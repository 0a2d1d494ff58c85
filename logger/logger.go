package logger

import (
	"context"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It is a no-op until Initialize runs, so
// packages that log during tests need no setup.
var Log = zap.NewNop()

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// Initialize builds the logger for env and stores it in Log.
func Initialize(env string) (*zap.Logger, error) {
	return InitializeWithWriter(env, nil)
}

// InitializeWithWriter also tees JSON output into w, which is how logs reach
// CloudWatch. A nil w logs to the console only.
func InitializeWithWriter(env string, w io.Writer) (*zap.Logger, error) {
	config := zapConfig(env)

	if w == nil {
		l, err := config.Build()
		if err != nil {
			return nil, err
		}
		Log = l
		return l, nil
	}

	console, err := config.Build()
	if err != nil {
		return nil, err
	}
	jsonEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	shipped := zapcore.NewCore(jsonEncoder, zapcore.AddSync(w), config.Level)

	Log = console.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, shipped)
	}))
	return Log, nil
}

func zapConfig(env string) zap.Config {
	if env == "production" {
		config := zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return config
	}
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return config
}

type ctxKey struct{}

// WithRequestID stores the request id on a plain context, for code that runs
// outside gin.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID reads the id from a gin context or one built by WithRequestID.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns Log with the request id attached when there is one.
func FromContext(ctx context.Context) *zap.Logger {
	if id := RequestID(ctx); id != "" {
		return Log.With(zap.String("request_id", id))
	}
	return Log
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Info(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Warn(msg, fields...)
}

func Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	FromContext(ctx).Error(msg, fields...)
}
