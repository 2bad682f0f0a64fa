// Package logger provides the standard zap.Logger setup used across coredb's
// storage core, so the buffer pool and B+Tree report their failures (page
// I/O errors, a failed root persist) in a consistent structured form.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the logger's verbosity and destination.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Format is "json" or "console". Defaults to "console".
	Format string
	// OutputPath is "stdout", "stderr", or a file path. Defaults to "stdout".
	OutputPath string
}

// New builds a *zap.Logger from the given config. It never returns an error
// for an unrecognized level, falling back to info instead.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	writer, err := writeSyncer(cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core, zap.AddCaller()).WithOptions(zap.Fields(zap.String("component", "storage-core"))), nil
}

// Noop returns a logger that discards everything, used as the default in
// tests and library entry points that don't configure logging explicitly.
func Noop() *zap.Logger {
	return zap.NewNop()
}

func writeSyncer(path string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(path) {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		return zapcore.AddSync(f), nil
	}
}
