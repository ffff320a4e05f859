package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNew(t *testing.T) {
	for _, env := range []string{"", "development", "production"} {
		log, err := New(Config{Environment: env, Level: "debug"})
		require.NoError(t, err, env)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	}

	log, err := New(Config{Level: "error"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.WarnLevel))
}
