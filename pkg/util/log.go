package util

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// NewLogger creates a JSON logger writing to stdout only.
func NewLogger() *zap.Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(os.Stdout), zap.InfoLevel)
	return zap.New(core)
}

// NewLoggerWithFile creates a logger that writes to both console and a file.
// An empty path logs to the console only.
func NewLoggerWithFile(logPath string) (*zap.Logger, error) {
	if logPath == "" {
		return NewLogger(), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	encoder := zapcore.NewJSONEncoder(encoderConfig())
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.InfoLevel),
		zapcore.NewCore(encoder.Clone(), zapcore.AddSync(file), zap.InfoLevel),
	)

	return zap.New(core), nil
}

// NopSugar is the logger components fall back to when none is supplied.
func NopSugar() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
