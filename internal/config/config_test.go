package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:              "8080",
		Env:               "development",
		JWTSecret:         "secure-secret-at-least-32-chars-long",
		DBDriver:          "sqlite",
		DBPassword:        "secure-password",
		CallRingTimeout:   60 * time.Second,
		FanoutSendTimeout: 250 * time.Millisecond,
		HistoryPageSize:   50,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid development", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"zero ring timeout", func(c *Config) { c.CallRingTimeout = 0 }, true},
		{"zero fanout timeout", func(c *Config) { c.FanoutSendTimeout = 0 }, true},
		{"zero page size", func(c *Config) { c.HistoryPageSize = 0 }, true},
		{"node id out of range", func(c *Config) { c.NodeID = 1024 }, true},
		{"production default secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = defaultJWTSecret
		}, true},
		{"production short secret", func(c *Config) {
			c.Env = "prod"
			c.JWTSecret = "short"
		}, true},
		{"production weak postgres password", func(c *Config) {
			c.Env = "production"
			c.DBDriver = "postgres"
			c.DBPassword = "password"
		}, true},
		{"production sqlite", func(c *Config) { c.Env = "production" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("CALL_RING_TIMEOUT", "5s")
	t.Setenv("FANOUT_WORKERS", "8")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, 5*time.Second, c.CallRingTimeout)
	assert.Equal(t, 8, c.FanoutWorkers)
	assert.Equal(t, 250*time.Millisecond, c.FanoutSendTimeout)
	assert.Equal(t, "8375", c.Port)
}

func TestConfig_STUNServers(t *testing.T) {
	c := &Config{STUNURLs: " stun:a:1 ,, stun:b:2"}
	assert.Equal(t, []string{"stun:a:1", "stun:b:2"}, c.STUNServers())
}
