package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the service logger. Logs always go to stdout; when file is
// non-empty they are additionally written there with rotation.
func New(level, file string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if file == "" {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		return cfg.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
	})

	stdout, _, err := zap.Open("stdout")
	if err != nil {
		return nil, err
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, stdout, lvl),
		zapcore.NewCore(encoder, rotated, lvl),
	)
	return zap.New(core), nil
}
