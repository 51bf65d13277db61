// Package config defines the application's root configuration and its viper
// loading/validation helpers.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for the whole service.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Server   ServerConfig   `mapstructure:"server"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Session  SessionConfig  `mapstructure:"session"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// ColorConfig defines per-level colors for console log output.
type ColorConfig struct {
	Debug string `mapstructure:"debug"`
	Info  string `mapstructure:"info"`
	Warn  string `mapstructure:"warn"`
	Error string `mapstructure:"error"`
	Fatal string `mapstructure:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BrowserConfig holds settings for the headless browser backend.
type BrowserConfig struct {
	ExecPath        string         `mapstructure:"exec_path"`
	Headless        bool           `mapstructure:"headless"`
	NoSandbox       bool           `mapstructure:"no_sandbox"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors"`
	Humanoid        HumanoidConfig `mapstructure:"humanoid"`
}

// HumanoidConfig toggles humanized pointer motion before clicks.
type HumanoidConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	PerlinAmplitude float64 `mapstructure:"perlin_amplitude"`
	StepsPerSecond  int     `mapstructure:"steps_per_second"`
}

// SessionConfig holds default viewport dimensions and the per-action timing
// knobs. The settle delays are operational tuning, not protocol contracts.
type SessionConfig struct {
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ClickSettle       time.Duration `mapstructure:"click_settle"`
	ScrollSettle      time.Duration `mapstructure:"scroll_settle"`
	TypeSettle        time.Duration `mapstructure:"type_settle"`
}

// CaptureConfig controls the snapshot encoder.
type CaptureConfig struct {
	Format  string `mapstructure:"format"` // "png" or "jpeg"
	Quality int    `mapstructure:"quality"`
}

// PostgresConfig enables the optional interaction log when URL is non-empty.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// SetDefaults seeds viper so the service runs with an empty config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "spyglass")
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("server.addr", ":8089")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.humanoid.enabled", false)
	v.SetDefault("browser.humanoid.perlin_amplitude", 1.5)
	v.SetDefault("browser.humanoid.steps_per_second", 90)

	v.SetDefault("session.viewport_width", 1280)
	v.SetDefault("session.viewport_height", 800)
	v.SetDefault("session.navigation_timeout", 35*time.Second)
	v.SetDefault("session.click_settle", 350*time.Millisecond)
	v.SetDefault("session.scroll_settle", 200*time.Millisecond)
	v.SetDefault("session.type_settle", 300*time.Millisecond)

	v.SetDefault("capture.format", "png")
	v.SetDefault("capture.quality", 80)
}

// Load unmarshals the viper state into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Session.ViewportWidth <= 0 || c.Session.ViewportHeight <= 0 {
		return fmt.Errorf("session viewport must be positive, got %dx%d",
			c.Session.ViewportWidth, c.Session.ViewportHeight)
	}
	if c.Session.NavigationTimeout <= 0 {
		return fmt.Errorf("session navigation_timeout must be positive")
	}
	switch c.Capture.Format {
	case "png", "jpeg":
	default:
		return fmt.Errorf("capture format must be png or jpeg, got %q", c.Capture.Format)
	}
	if c.Capture.Format == "jpeg" && (c.Capture.Quality < 1 || c.Capture.Quality > 100) {
		return fmt.Errorf("capture quality must be in [1,100], got %d", c.Capture.Quality)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	return nil
}
