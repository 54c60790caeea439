// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Player   PlayerConfig   `mapstructure:"player" yaml:"player"`
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Macros   MacroConfig    `mapstructure:"macros" yaml:"macros"`
}

// LoggerConfig defines how application logs are produced.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache      bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug             bool           `mapstructure:"debug" yaml:"debug"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// PlayerConfig tunes macro replay.
type PlayerConfig struct {
	// MaxNesting bounds how deeply RUN may recurse.
	MaxNesting int `mapstructure:"max_nesting" yaml:"max_nesting"`
	// ActionsPerSecond throttles step consumption; 0 replays at full speed.
	ActionsPerSecond float64 `mapstructure:"actions_per_second" yaml:"actions_per_second"`
	// DefaultLoops is the loop count used when the play command omits one.
	DefaultLoops int `mapstructure:"default_loops" yaml:"default_loops"`
	// EvalTimeout bounds a single expression evaluation.
	EvalTimeout time.Duration `mapstructure:"eval_timeout" yaml:"eval_timeout"`
}

// RecorderConfig tunes interaction recording.
type RecorderConfig struct {
	// EncryptKeystrokes stores typed characters encrypted rather than in
	// the clear. Requires a passphrase.
	EncryptKeystrokes bool `mapstructure:"encrypt_keystrokes" yaml:"encrypt_keystrokes"`
	// Passphrase derives the keystroke encryption key. Set it through the
	// MACROTAPE_CRYPT_PASSPHRASE environment variable, never the file.
	Passphrase string `mapstructure:"passphrase" yaml:"-"`
	// EventBuffer sizes the browser-to-recorder event channel.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// StoreConfig configures the optional shared macro store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// MacroConfig locates macros on disk.
type MacroConfig struct {
	// Dir is the macro library directory. An empty value means
	// ~/.macrotape/macros.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "macrotape")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "500ms")
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})

	// -- Player --
	v.SetDefault("player.max_nesting", 10)
	v.SetDefault("player.actions_per_second", 0.0)
	v.SetDefault("player.default_loops", 1)
	v.SetDefault("player.eval_timeout", "10s")

	// -- Recorder --
	v.SetDefault("recorder.encrypt_keystrokes", false)
	v.SetDefault("recorder.event_buffer", 256)

	// -- Store --
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.url", "")

	// -- Macros --
	v.SetDefault("macros.dir", "")
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment, never from the file.
	v.BindEnv("recorder.passphrase", "MACROTAPE_CRYPT_PASSPHRASE")
	v.BindEnv("store.url", "MACROTAPE_DB_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load reads configuration from an optional file plus MACROTAPE_* environment
// variables, with defaults filling the gaps.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("MACROTAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("macrotape")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.macrotape")
		// A missing default config file is fine; defaults apply.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config: %w", err)
			}
		}
	}

	return NewConfigFromViper(v)
}

// Default returns the built-in configuration, useful for tests and embedding.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks cross-field constraints that defaults alone cannot
// guarantee.
func (c *Config) Validate() error {
	if c.Player.MaxNesting < 1 {
		return fmt.Errorf("player.max_nesting must be at least 1, got %d", c.Player.MaxNesting)
	}
	if c.Player.ActionsPerSecond < 0 {
		return fmt.Errorf("player.actions_per_second must not be negative")
	}
	if c.Recorder.EncryptKeystrokes && c.Recorder.Passphrase == "" {
		return fmt.Errorf("recorder.encrypt_keystrokes requires MACROTAPE_CRYPT_PASSPHRASE")
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store.enabled requires store.url or MACROTAPE_DB_URL")
	}
	if c.Recorder.EventBuffer < 1 {
		return fmt.Errorf("recorder.event_buffer must be at least 1, got %d", c.Recorder.EventBuffer)
	}
	return nil
}
