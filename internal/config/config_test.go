package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "pushwire", cfg.Logger.ServiceName)

	assert.Equal(t, "production", cfg.APNS.Environment)
	assert.Empty(t, cfg.APNS.Gateway)
	assert.Equal(t, 60*time.Second, cfg.APNS.Timeout)
	assert.Equal(t, time.Second, cfg.APNS.SweepInterval)
	assert.Zero(t, cfg.APNS.PingInterval)
	assert.Equal(t, 5*time.Second, cfg.APNS.PingTimeout)

	assert.Equal(t, 8, cfg.Send.Concurrency)
	assert.Zero(t, cfg.Send.RateLimit)

	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("apns.environment", "sandbox")
	v.Set("apns.timeout", "30s")
	v.Set("apns.token.key_path", "/keys/authkey.p8")
	v.Set("send.rate_limit", 50.0)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "sandbox", cfg.APNS.Environment)
	assert.Equal(t, 30*time.Second, cfg.APNS.Timeout)
	assert.Equal(t, "/keys/authkey.p8", cfg.APNS.Token.KeyPath)
	assert.Equal(t, 50.0, cfg.Send.RateLimit)
}

func TestNewConfigFromViper_SecretFromEnv(t *testing.T) {
	t.Setenv("PUSHWIRE_CERT_PASSPHRASE", "hunter2")

	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.APNS.Certificate.Passphrase)
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config { return NewDefaultConfig() }

	t.Run("rejects an unknown environment", func(t *testing.T) {
		cfg := base()
		cfg.APNS.Environment = "staging"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects negative timeout", func(t *testing.T) {
		cfg := base()
		cfg.APNS.Timeout = -time.Second
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects zero concurrency", func(t *testing.T) {
		cfg := base()
		cfg.Send.Concurrency = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects negative rate limit", func(t *testing.T) {
		cfg := base()
		cfg.Send.RateLimit = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestAPNSConfig_GatewayURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  APNSConfig
		want string
	}{
		{"production default", APNSConfig{Environment: "production"}, "https://api.push.apple.com"},
		{"sandbox", APNSConfig{Environment: "sandbox"}, "https://api.sandbox.push.apple.com"},
		{"explicit gateway wins", APNSConfig{Environment: "sandbox", Gateway: "https://apns.internal:8443"}, "https://apns.internal:8443"},
		{"empty environment falls back to production", APNSConfig{}, "https://api.push.apple.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.GatewayURL())
		})
	}
}
