package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

/* Config é um pacote auxiliar. Poderia ser uma lib externa*/

type Config struct {
	Port    string `mapstructure:"PORT"`
	Storage string `mapstructure:"STORAGE"` // memory, redis or postgres

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`

	EndpointsFile string `mapstructure:"ENDPOINTS_FILE"`

	Workers           int `mapstructure:"WORKERS"`
	MaxAttempts       int `mapstructure:"MAX_ATTEMPTS"`
	RequestTimeoutSec int `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	SweepIntervalSec  int `mapstructure:"SWEEP_INTERVAL_SECONDS"`
	ClaimLeaseSec     int `mapstructure:"CLAIM_LEASE_SECONDS"`
	RetentionHours    int `mapstructure:"RETENTION_HOURS"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("STORAGE", "memory")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("ENDPOINTS_FILE", "endpoints.yaml")
	viper.SetDefault("WORKERS", 4)
	viper.SetDefault("MAX_ATTEMPTS", 5)
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	viper.SetDefault("SWEEP_INTERVAL_SECONDS", 15)
	viper.SetDefault("CLAIM_LEASE_SECONDS", 120)
	viper.SetDefault("RETENTION_HOURS", 0) // 0 disables the retention sweep

	err := viper.ReadInConfig()
	if err != nil {
		// A missing config file is fine, env vars still apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	err = viper.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Storage {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for redis storage")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid STORAGE: %s (must be memory, redis or postgres)", c.Storage)
	}

	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func (c *Config) ClaimLease() time.Duration {
	return time.Duration(c.ClaimLeaseSec) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}
