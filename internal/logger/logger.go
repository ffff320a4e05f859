// Package logger builds the zap logger shared by the server components.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds configuration for the logger.
type Config struct {
	Environment string
	Level       string
	Service     string
}

// New creates a logger. Development environments get a console encoder,
// everything else JSON.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	if cfg.Service == "" {
		cfg.Service = "friendchat"
	}

	development := cfg.Environment == "development"
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoding := "json"
	if development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(cfg.Level)),
		Development:      development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	log, err := config.Build()
	if err != nil {
		return nil, err
	}
	return log.With(
		zap.String("service", cfg.Service),
		zap.String("environment", cfg.Environment),
	), nil
}

// ParseLevel maps a level name onto a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
