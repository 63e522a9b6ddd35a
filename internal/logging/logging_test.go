package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	} {
		lvl, off, err := parseLevel(raw)
		require.NoError(t, err, raw)
		assert.False(t, off, raw)
		assert.Equal(t, want, lvl, raw)
	}

	_, off, err := parseLevel("off")
	require.NoError(t, err)
	assert.True(t, off)

	_, _, err = parseLevel("loud")
	assert.Error(t, err)
}

func TestNewHonoursEnvOverride(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	log, err := New("debug")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))

	t.Setenv(EnvLogLevel, "off")
	log, err = New("debug")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.ErrorLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	_, err := New("chatty")
	assert.Error(t, err)

	log, err := New("debug")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}
