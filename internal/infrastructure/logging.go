package infrastructure

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/backtesting-org/sitewatch/internal/config"
)

// NewLogger creates a configured zap logger
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return BuildLogger(cfg.Logging)
}

// BuildLogger builds the application logger from the logging section alone,
// for commands that run before the rest of the graph exists.
func BuildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}
	encoding := cfg.Format
	if encoding == "" {
		encoding = "json"
	}

	logConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	return logConfig.Build()
}
