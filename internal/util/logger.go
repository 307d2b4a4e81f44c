package util

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "bank-service"

var (
	globalLogger *zap.Logger
	level        = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	once         sync.Once
)

// Init builds the process logger once. Later calls return the same logger;
// use SetLevel to change verbosity afterwards.
func Init(environment, lvl, format string) *zap.Logger {
	once.Do(func() {
		level.SetLevel(parseLevel(lvl))

		config := newConfig(environment)
		config.Level = level
		if format == "json" {
			config.Encoding = "json"
		} else {
			config.Encoding = "console"
		}
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		config.InitialFields = map[string]interface{}{
			"service": serviceName,
			"env":     environment,
		}

		logger, err := config.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic("failed to initialize logger: " + err.Error())
		}
		globalLogger = logger
		zap.ReplaceGlobals(globalLogger)
	})

	return globalLogger
}

func newConfig(environment string) zap.Config {
	if environment != "production" {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return config
	}

	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.Sampling = &zap.SamplingConfig{Initial: 200, Thereafter: 50}
	return config
}

func parseLevel(s string) zapcore.Level {
	if s == "warning" {
		return zapcore.WarnLevel
	}
	l, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// SetLevel changes the level of the running logger.
func SetLevel(lvl string) {
	level.SetLevel(parseLevel(lvl))
}

// Get returns the global logger instance
func Get() *zap.Logger {
	if globalLogger == nil {
		return Init("production", "info", "json")
	}
	return globalLogger
}

// Named returns a child logger for a component. The global logger skips one
// frame for the helpers below, so component loggers undo it.
func Named(component string) *zap.Logger {
	return named(Get(), component)
}

func named(base *zap.Logger, component string) *zap.Logger {
	return base.WithOptions(zap.AddCallerSkip(-1)).Named(component)
}

// Sync flushes any buffered log entries
func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { Get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { Get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

// Field helpers
func String(key, value string) zap.Field { return zap.String(key, value) }
func Strings(key string, values []string) zap.Field { return zap.Strings(key, values) }
func Bool(key string, value bool) zap.Field { return zap.Bool(key, value) }
func Int(key string, value int) zap.Field { return zap.Int(key, value) }
func Duration(key string, value time.Duration) zap.Field { return zap.Duration(key, value) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }

// Amount logs a currency amount as its fixed two-decimal string.
func Amount(key string, value fmt.Stringer) zap.Field {
	return zap.Stringer(key, value)
}

// ErrorField wraps err; named to avoid clashing with Error.
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}
