// Package logging sets up the process-wide structured logger. It keeps the
// teacher's stdout+file tee shape but backs it with zap so that fields
// (service, instance, decisionType, episode) stay structured instead of
// being interpolated into a format string.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Setup builds a *zap.Logger writing to stdout and to logFile, at the given
// level ("DEBUG", "INFO", "WARN", "ERROR"). It creates the log file's
// directory if necessary, matching the teacher's SetupLogging.
func Setup(level, logFile string) (*zap.Logger, error) {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(logFile)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderConfig())
	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), zapLevel),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(f), zapLevel),
	)

	return zap.New(core, zap.AddCaller()), nil
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "DEBUG", "debug":
		return zapcore.DebugLevel, nil
	case "WARN", "warn":
		return zapcore.WarnLevel, nil
	case "ERROR", "error":
		return zapcore.ErrorLevel, nil
	case "", "INFO", "info":
		return zapcore.InfoLevel, nil
	default:
		return zapcore.InfoLevel, nil
	}
}
