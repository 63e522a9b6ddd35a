// Package logging builds the zap loggers used by the programs.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogLevel overrides the level passed to New.
const EnvLogLevel = "DIFFIK_LOG_LEVEL"

// New returns a production logger at the given level ("debug", "info",
// "warn", "error" or "off"). An empty level means info.
func New(level string) (*zap.Logger, error) {
	if env, ok := os.LookupEnv(EnvLogLevel); ok && strings.TrimSpace(env) != "" {
		level = env
	}
	lvl, off, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	if off {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel
	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return log, nil
}

func parseLevel(raw string) (lvl zapcore.Level, off bool, err error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zapcore.InfoLevel, false, nil
	case "disabled", "off", "none":
		return zapcore.InfoLevel, true, nil
	case "warning":
		return zapcore.WarnLevel, false, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(raw)))); err != nil {
		return zapcore.InfoLevel, false, fmt.Errorf("log level %q: %w", raw, err)
	}
	return lvl, false, nil
}
