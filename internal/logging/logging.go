// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger at the given level
// (debug, info, warn or error). An empty level means info.
func New(level string) (*zap.Logger, error) {
	atomic, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.Level = atomic
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func ParseLevel(level string) (zap.AtomicLevel, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}

	var parsed zapcore.Level
	if err := parsed.Set(strings.ToLower(level)); err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zap.NewAtomicLevelAt(parsed), nil
}
