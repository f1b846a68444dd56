package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load(New(""))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", cfg.API.URL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 6, cfg.API.Retries)
	assert.Equal(t, time.Second, cfg.API.RetryInterval)
	assert.Equal(t, time.Hour, cfg.Sync.Interval)
	assert.True(t, cfg.Sync.Prune)
	assert.True(t, cfg.Live.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.DB.Path)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studysync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
url = "https://study.example.com"
retries = 2
retry_interval = "250ms"

[sync]
interval = "15m"
prune = false
`), 0o600))
	t.Setenv("STUDYSYNC_API_TOKEN", "secret")
	t.Setenv("STUDYSYNC_LOG_LEVEL", "debug")

	v := New(path)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "https://study.example.com", cfg.API.URL)
	assert.Equal(t, 2, cfg.API.Retries)
	assert.Equal(t, 250*time.Millisecond, cfg.API.RetryInterval)
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
	assert.False(t, cfg.Sync.Prune)
	assert.Equal(t, "secret", cfg.API.Token)
	assert.Equal(t, "debug", cfg.Log.Level)

	api := Settings(v)["api"].(map[string]any)
	assert.Equal(t, "********", api["token"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative url", func(c *Config) { c.API.URL = "/api" }},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.API.Retries = -1 }},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }},
		{"no db path", func(c *Config) { c.DB.Path = "" }},
		{"bad port", func(c *Config) { c.Dashboard.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("XDG_CONFIG_HOME", t.TempDir())
			cfg, err := Load(New(""))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "studysync.toml")
	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false))
	require.NoError(t, WriteDefault(path, true))

	cfg, err := Load(New(path))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 8080, cfg.Dashboard.Port)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studysync.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o600))

	v := New(path)
	_, err := Load(v)
	require.NoError(t, err)

	var level atomic.Value
	Watch(v, func(c *Config) { level.Store(c.Log.Level) }, nil)

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o600))
	require.Eventually(t, func() bool {
		got, _ := level.Load().(string)
		return got == "debug"
	}, 5*time.Second, 20*time.Millisecond)
}
