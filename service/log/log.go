package log

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKey struct{}

var defaultLogger *zap.Logger

func init() {
	var err error
	if os.Getenv("DEVELOPMENT") != "" {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		defaultLogger, err = config.Build(zap.AddStacktrace(zapcore.DPanicLevel))
	} else {
		defaultLogger, err = zap.NewProduction(zap.AddStacktrace(zapcore.DPanicLevel))
	}
	if err != nil {
		panic(err)
	}
}

// Logger returns the logger attached to ctx, or the default logger
func Logger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a copy of ctx whose logger logs the given key/value pairs with each message
func With(ctx context.Context, args ...interface{}) context.Context {
	return context.WithValue(ctx, loggerKey{}, Logger(ctx).Sugar().With(args...).Desugar())
}

// Fatal logs a message at fatal level with the default logger, then exits
func Fatal(msg string, fields ...zap.Field) {
	defaultLogger.Fatal(msg, fields...)
}
