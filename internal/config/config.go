// Package config loads studysync settings from defaults, a config file,
// STUDYSYNC_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. STUDYSYNC_API_URL.
const EnvPrefix = "STUDYSYNC"

// FileName is the config file name without extension.
const FileName = "studysync"

// Config is the resolved configuration.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	DB        DBConfig        `mapstructure:"db"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
	SRS       SRSConfig       `mapstructure:"srs"`
	Live      LiveConfig      `mapstructure:"live"`
}

type APIConfig struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Prune    bool          `mapstructure:"prune"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type SRSConfig struct {
	// File is an optional YAML file with schedule overrides.
	File string `mapstructure:"file"`
}

type LiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Dir returns the config directory, $XDG_CONFIG_HOME/studysync on Linux.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "." + FileName
	}
	return filepath.Join(base, FileName)
}

// DefaultDBPath returns the default cache location.
func DefaultDBPath() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join("."+FileName, "cache.db")
	}
	return filepath.Join(base, FileName, "cache.db")
}

// defaults is the flat key/value form of the default configuration.
func defaults() map[string]any {
	return map[string]any{
		"api.url":            "http://localhost:3000",
		"api.token":          "",
		"api.timeout":        10 * time.Second,
		"api.retries":        6,
		"api.retry_interval": time.Second,
		"db.path":            DefaultDBPath(),
		"sync.interval":      time.Hour,
		"sync.prune":         true,
		"dashboard.port":     8080,
		"log.level":          "info",
		"log.file":           "",
		"srs.file":           "",
		"live.enabled":       true,
	}
}

// New returns a viper instance with defaults, env binding and the standard
// search path set up. file, when not empty, replaces the search.
func New(file string) *viper.Viper {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}
	return v
}

// Load reads the config file, if any, and decodes the result.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.API.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.url %q is not an absolute URL", c.API.URL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive"))
	}
	if c.API.Retries < 0 {
		errs = append(errs, fmt.Errorf("api.retries must not be negative"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive"))
	}
	if c.DB.Path == "" {
		errs = append(errs, fmt.Errorf("db.path is required"))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Watch calls fn with the reloaded configuration whenever the config file
// is written. Invalid edits are reported through onErr and otherwise ignored.
func Watch(v *viper.Viper, fn func(*Config), onErr func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}

// WriteDefault writes a TOML config file with every default spelled out.
// It refuses to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(nested(defaults())); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Settings returns every resolved key in nested form, with the token masked.
func Settings(v *viper.Viper) map[string]any {
	flat := make(map[string]any)
	for _, k := range v.AllKeys() {
		flat[k] = v.Get(k)
	}
	if tok, _ := flat["api.token"].(string); tok != "" {
		flat["api.token"] = "********"
	}
	return nested(flat)
}

// nested turns dotted keys into TOML tables. Durations become strings so
// they read back through viper's duration hook.
func nested(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range flat {
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		section, key, found := strings.Cut(k, ".")
		if !found {
			out[k] = val
			continue
		}
		table, _ := out[section].(map[string]any)
		if table == nil {
			table = make(map[string]any)
			out[section] = table
		}
		table[key] = val
	}
	return out
}
