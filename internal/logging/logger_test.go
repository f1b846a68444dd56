package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studysync.log")
	l := New(Options{Level: "debug", File: path})
	l.Named("test").Info("hello", "collection", "subjects")
	l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"collection":"subjects"`)
}

func TestSetLevel(t *testing.T) {
	l := New(Options{Level: "error"})
	assert.False(t, l.level.Enabled(zapcore.InfoLevel))
	l.SetLevel("debug")
	assert.True(t, l.level.Enabled(zapcore.DebugLevel))
}
