// Package config loads server settings with viper. Priority order:
// environment variables > config file > defaults. A .env file, when
// present, is folded into the environment before viper runs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the fully resolved server configuration.
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	MaxRooms        int           `mapstructure:"maxrooms"`
	RoomIdleTimeout time.Duration `mapstructure:"roomidletimeout"`
	LogLevel        string        `mapstructure:"loglevel"`
	DatabaseURL     string        `mapstructure:"databaseurl"`
}

// Load reads configuration from server.yaml (optional), the environment
// and .env. configPath forces a specific config file.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("server")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.BindEnv("port", "PORT")
	v.BindEnv("host", "HOST")
	v.BindEnv("maxrooms", "MAX_ROOMS")
	v.BindEnv("roomidletimeout", "ROOM_IDLE_TIMEOUT")
	v.BindEnv("loglevel", "LOG_LEVEL")
	v.BindEnv("databaseurl", "DATABASE_URL")

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", "8080")
	v.SetDefault("maxrooms", 259)
	v.SetDefault("roomidletimeout", "30m")
	v.SetDefault("loglevel", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.MaxRooms <= 0 {
		return nil, fmt.Errorf("maxrooms must be positive, got %d", cfg.MaxRooms)
	}
	return cfg, nil
}

// Addr is the listen address.
func (c *Config) Addr() string { return c.Host + ":" + c.Port }
