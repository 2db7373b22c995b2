package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envProduction = "production"

// global is the process-wide logger. Initialized once at startup; everything
// else reaches it through Get.
var global *zap.Logger

// Init builds the global logger for the given environment: JSON at info level
// in production, colored console at debug level everywhere else. Timestamps
// are ISO8601 under a "timestamp" key in both modes so log aggregation does
// not care which environment produced a line.
func Init(env string) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if env == envProduction {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build()
	if err != nil {
		return err
	}
	global = built
	return nil
}

// Sync flushes buffered entries. Safe to defer before Init has run.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}

// Get returns the global logger. Before Init (tests, early wiring) it falls
// back to a development logger rather than handing out nil.
func Get() *zap.Logger {
	if global == nil {
		fallback, _ := zap.NewDevelopment()
		return fallback
	}
	return global
}
