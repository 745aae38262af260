package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "CALLSTREAM"

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StreamPath string `mapstructure:"stream_path"`
	// AuthToken, when set, must be presented as "Authorization: Bearer <token>".
	AuthToken      string        `mapstructure:"auth_token"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AuthFailLimit  int           `mapstructure:"auth_fail_limit"`
	AuthFailWindow time.Duration `mapstructure:"auth_fail_window"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
}

// New returns a viper instance with defaults and env overrides installed.
// Callers may bind flags onto it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 5000)
	v.SetDefault("stream_path", "/media-stream")
	v.SetDefault("auth_token", "")
	v.SetDefault("chunk_size", 3200)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "0s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("auth_fail_limit", 10)
	v.SetDefault("auth_fail_window", "1m")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (or config/config.<CONFIG_ENV>.yaml when file is empty)
// on top of v's defaults. A missing file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(file)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", file).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("stream_path", cfg.StreamPath).
		Bool("auth", cfg.AuthToken != "").
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case "release", "debug", "test":
	default:
		return fmt.Errorf("mode must be one of [release, debug, test], got %q", c.Mode)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if !strings.HasPrefix(c.StreamPath, "/") {
		return fmt.Errorf("stream_path must start with /, got %q", c.StreamPath)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ReadLimit < 1024 {
		return fmt.Errorf("read_limit must be at least 1024 bytes, got %d", c.ReadLimit)
	}
	if c.PingPeriod < 0 {
		return fmt.Errorf("ping_period cannot be negative, got %s", c.PingPeriod)
	}
	if c.PingPeriod > 0 && c.PongWait <= c.PingPeriod {
		return fmt.Errorf("pong_wait (%s) must be greater than ping_period (%s)", c.PongWait, c.PingPeriod)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.AuthFailLimit < 0 {
		return fmt.Errorf("auth_fail_limit cannot be negative, got %d", c.AuthFailLimit)
	}
	if c.AuthFailLimit > 0 && c.AuthFailWindow <= 0 {
		return fmt.Errorf("auth_fail_window must be positive when auth_fail_limit is set")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be 'console' or 'json', got %q", c.LogFormat)
	}
	return nil
}
