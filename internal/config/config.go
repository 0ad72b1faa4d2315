// Package config loads and validates pushwire's configuration from file,
// environment, and flags via viper.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	APNS   APNSConfig   `mapstructure:"apns" yaml:"apns"`
	Send   SendConfig   `mapstructure:"send" yaml:"send"`
}

// LoggerConfig controls log output, format, and file rotation.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig assigns terminal colors to log levels for console format.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// APNSConfig configures the gateway connection and credentials.
type APNSConfig struct {
	// Environment selects a well-known gateway: "production" or "sandbox".
	// Gateway, when set, overrides it with an explicit https origin.
	Environment string `mapstructure:"environment" yaml:"environment"`
	Gateway     string `mapstructure:"gateway" yaml:"gateway"`

	Certificate CertificateConfig `mapstructure:"certificate" yaml:"certificate"`
	Token       TokenConfig       `mapstructure:"token" yaml:"token"`

	// Timeout bounds how long a push waits for a gateway response.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// SweepInterval is the timeout eviction granularity.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	// PingInterval enables idle liveness probes when positive.
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
}

// CertificateConfig points at a provider client certificate bundle.
type CertificateConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`
}

// TokenConfig points at an ES256 provider token signing key.
type TokenConfig struct {
	KeyPath string `mapstructure:"key_path" yaml:"key_path"`
	KeyID   string `mapstructure:"key_id" yaml:"key_id"`
	TeamID  string `mapstructure:"team_id" yaml:"team_id"`
}

// SendConfig controls the send command's fan-out behavior.
type SendConfig struct {
	// Concurrency caps how many pushes are submitted in parallel.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// RateLimit caps pushes per second; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	// Topic is the app bundle ID attached to every notification.
	Topic string `mapstructure:"topic" yaml:"topic"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pushwire")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- APNS --
	v.SetDefault("apns.environment", "production")
	v.SetDefault("apns.gateway", "")
	v.SetDefault("apns.timeout", "60s")
	v.SetDefault("apns.sweep_interval", "1s")
	v.SetDefault("apns.ping_interval", "0")
	v.SetDefault("apns.ping_timeout", "5s")

	// -- Send --
	v.SetDefault("send.concurrency", 8)
	v.SetDefault("send.rate_limit", 0.0)
	v.SetDefault("send.topic", "")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for secrets that should stay out of files.
	v.BindEnv("apns.certificate.passphrase", "PUSHWIRE_CERT_PASSPHRASE")
	v.BindEnv("apns.token.key_id", "PUSHWIRE_TOKEN_KEY_ID")
	v.BindEnv("apns.token.team_id", "PUSHWIRE_TOKEN_TEAM_ID")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.APNS.Certificate.Passphrase == "" {
		cfg.APNS.Certificate.Passphrase = os.Getenv("PUSHWIRE_CERT_PASSPHRASE")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	switch c.APNS.Environment {
	case "", "production", "sandbox":
	default:
		return fmt.Errorf("apns.environment must be \"production\" or \"sandbox\", got %q", c.APNS.Environment)
	}
	if c.APNS.Timeout < 0 {
		return fmt.Errorf("apns.timeout must not be negative")
	}
	if c.APNS.SweepInterval < 0 {
		return fmt.Errorf("apns.sweep_interval must not be negative")
	}
	if c.Send.Concurrency <= 0 {
		return fmt.Errorf("send.concurrency must be a positive integer")
	}
	if c.Send.RateLimit < 0 {
		return fmt.Errorf("send.rate_limit must not be negative")
	}
	return nil
}

// GatewayURL resolves the effective gateway origin from Gateway and
// Environment, explicit Gateway winning.
func (c *APNSConfig) GatewayURL() string {
	if c.Gateway != "" {
		return c.Gateway
	}
	if c.Environment == "sandbox" {
		return "https://api.sandbox.push.apple.com"
	}
	return "https://api.push.apple.com"
}
