// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-me-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// NodeID seeds message id generation and must differ per process.
	NodeID int64 `mapstructure:"NODE_ID"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	CallRingTimeout   time.Duration `mapstructure:"CALL_RING_TIMEOUT"`
	FanoutSendTimeout time.Duration `mapstructure:"FANOUT_SEND_TIMEOUT"`
	FanoutWorkers     int           `mapstructure:"FANOUT_WORKERS"`
	WSCommandRate     float64       `mapstructure:"WS_COMMAND_RATE"`
	WSCommandBurst    int           `mapstructure:"WS_COMMAND_BURST"`
	HistoryPageSize   int           `mapstructure:"HISTORY_PAGE_SIZE"`

	STUNURLs     string `mapstructure:"STUN_URLS"`
	TURNURL      string `mapstructure:"TURN_URL"`
	TURNUsername string `mapstructure:"TURN_USERNAME"`
	TURNPassword string `mapstructure:"TURN_PASSWORD"`

	MinioEndpoint  string        `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string        `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string        `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string        `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool          `mapstructure:"MINIO_USE_SSL"`
	BlobURLTTL     time.Duration `mapstructure:"BLOB_URL_TTL"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

// LoadConfig loads application configuration from .env, config files and environment variables.
func LoadConfig() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	// The base file is optional.
	_ = v.ReadInConfig()

	env := v.GetString("APP_ENV")
	if env != "" && env != "development" && env != "test" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8375")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("JWT_SECRET", defaultJWTSecret)

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "nos_mobile")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("SQLITE_PATH", "nos_mobile.db")

	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")

	v.SetDefault("CALL_RING_TIMEOUT", "60s")
	v.SetDefault("FANOUT_SEND_TIMEOUT", "250ms")
	v.SetDefault("FANOUT_WORKERS", 256)
	v.SetDefault("WS_COMMAND_RATE", 20)
	v.SetDefault("WS_COMMAND_BURST", 40)
	v.SetDefault("HISTORY_PAGE_SIZE", 50)

	v.SetDefault("STUN_URLS", "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302")
	v.SetDefault("TURN_URL", "")
	v.SetDefault("TURN_USERNAME", "")
	v.SetDefault("TURN_PASSWORD", "")

	v.SetDefault("MINIO_ENDPOINT", "")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_BUCKET", "nos-media")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("BLOB_URL_TTL", "15m")

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
}

// IsProduction reports whether the configured environment is a production profile.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// STUNServers returns the configured STUN urls.
func (c *Config) STUNServers() []string {
	var out []string
	for _, u := range strings.Split(c.STUNURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.CallRingTimeout <= 0 {
		return errors.New("CALL_RING_TIMEOUT must be positive")
	}
	if c.FanoutSendTimeout <= 0 {
		return errors.New("FANOUT_SEND_TIMEOUT must be positive")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return errors.New("NODE_ID must be between 0 and 1023")
	}
	if c.HistoryPageSize <= 0 {
		return errors.New("HISTORY_PAGE_SIZE must be positive")
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
