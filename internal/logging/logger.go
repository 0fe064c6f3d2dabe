// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the console format and the optional debug trace.
type Options struct {
	Development bool
	// Quiet raises the console level to warn.
	Quiet   bool
	NoColor bool
	// Debug is a file that receives every debug-level entry as JSON; "-"
	// means stderr.
	Debug string
}

// New builds a zap.Logger configured for development or production. The
// returned close function flushes the logger and releases the debug file.
func New(opts Options) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if opts.Quiet {
		level = zapcore.WarnLevel
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if opts.NoColor {
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}

	closeFn := func() { _ = logger.Sync() }
	if opts.Debug == "" {
		return logger, closeFn, nil
	}

	sink, closeSink, err := openDebugSink(opts.Debug)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	debugCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, zapcore.DebugLevel)
	logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, debugCore)
	}))
	closeFn = func() {
		_ = logger.Sync()
		closeSink()
	}
	return logger, closeFn, nil
}

func openDebugSink(path string) (zapcore.WriteSyncer, func(), error) {
	if path == "-" {
		return zapcore.Lock(os.Stderr), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open debug log: %w", err)
	}
	return zapcore.AddSync(f), func() { _ = f.Close() }, nil
}
