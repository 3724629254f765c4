// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(zap.NewNop())
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level       string
	Development bool
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys picked up by the context-aware helpers.
const (
	RequestIDKey LogContextKey = "request_id"
	UserIDKey    LogContextKey = "user_id"
	TraceIDKey   LogContextKey = "trace_id"
)

// InitLogger builds the process logger and installs it as the global one.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.RFC3339Nano),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Development {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	opts := []zap.Option{
		zap.ErrorOutput(zapcore.AddSync(os.Stderr)),
		zap.AddCaller(),
	}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	l := zap.New(core, opts...)
	ReplaceLogger(l)
	return l, nil
}

// L returns the global logger. It is a no-op logger until InitLogger runs.
func L() *zap.Logger {
	return global.Load()
}

// ReplaceLogger swaps the global logger.
func ReplaceLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
	zap.ReplaceGlobals(l)
}

// WithUserID returns a context carrying the acting user's id for log correlation.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func contextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	for _, key := range []LogContextKey{RequestIDKey, TraceIDKey, UserIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	return fields
}

// Debug logs at debug level with request-scoped fields from ctx.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	L().WithOptions(zap.AddCallerSkip(1)).Debug(msg, contextFields(ctx, fields)...)
}

// Info logs at info level with request-scoped fields from ctx.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	L().WithOptions(zap.AddCallerSkip(1)).Info(msg, contextFields(ctx, fields)...)
}

// Warn logs at warn level with request-scoped fields from ctx.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	L().WithOptions(zap.AddCallerSkip(1)).Warn(msg, contextFields(ctx, fields)...)
}

// Error logs at error level with request-scoped fields from ctx.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	L().WithOptions(zap.AddCallerSkip(1)).Error(msg, contextFields(ctx, fields)...)
}

// WSLogger provides structured logging for websocket connection lifecycle.
type WSLogger struct {
	hub string
}

// NewWSLogger creates a WSLogger for the named hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{hub: hubName}
}

// LogConnect logs a new bound connection.
func (l *WSLogger) LogConnect(ctx context.Context, userID string, conns int) {
	Info(ctx, "websocket connected",
		zap.String("hub", l.hub),
		zap.String("ws_user_id", userID),
		zap.Int("user_connections", conns),
	)
}

// LogDisconnect logs an unbound connection.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID string, remaining int) {
	Info(ctx, "websocket disconnected",
		zap.String("hub", l.hub),
		zap.String("ws_user_id", userID),
		zap.Int("user_connections", remaining),
	)
}

// LogError logs a failure while handling an event for a user.
func (l *WSLogger) LogError(ctx context.Context, userID string, err error, eventType string) {
	Warn(ctx, "websocket event failed",
		zap.String("hub", l.hub),
		zap.String("ws_user_id", userID),
		zap.String("event", eventType),
		zap.Error(err),
	)
}
