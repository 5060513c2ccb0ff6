package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for both gateway daemons.
// A single TOML file is shared by perceptiond and controld; each daemon
// reads the sections it cares about and ignores the rest.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Perception PerceptionConfig `mapstructure:"perception_service"`
	Redis      RedisConfig      `mapstructure:"redis"`
	HTTP       HTTPConfig       `mapstructure:"http_service"`
}

// LogConfig controls zerolog level/format and the optional output file.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Outfile string `mapstructure:"outfile"`
	Format  string `mapstructure:"format"`
}

// PerceptionConfig contains settings for the TCP device frontend.
type PerceptionConfig struct {
	IP                string `mapstructure:"ip"`
	Port              string `mapstructure:"port"`
	HeartbeatInterval int64  `mapstructure:"heartbeat_interval"`
	MetricsAddr       string `mapstructure:"metrics_addr"`
}

// RedisConfig locates the shared key-value store.
type RedisConfig struct {
	IP   string `mapstructure:"ip"`
	Port string `mapstructure:"port"`
}

// HTTPConfig contains settings for the control-plane HTTP frontend.
type HTTPConfig struct {
	IP   string `mapstructure:"ip"`
	Port string `mapstructure:"port"`
}

// Load reads the TOML config file at path, falling back to defaults for
// any absent field. Environment variables prefixed with CSOD_ override
// file values. With an empty path the file is searched in the working
// directory and may be absent; an explicitly named file must exist.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.outfile", "")
	v.SetDefault("log.format", "json")

	v.SetDefault("perception_service.ip", "0.0.0.0")
	v.SetDefault("perception_service.port", "18000")
	v.SetDefault("perception_service.heartbeat_interval", int64(120))
	v.SetDefault("perception_service.metrics_addr", "0.0.0.0:9100")

	v.SetDefault("redis.ip", "127.0.0.1")
	v.SetDefault("redis.port", "6379")

	v.SetDefault("http_service.ip", "0.0.0.0")
	v.SetDefault("http_service.port", "8000")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
	} else {
		v.SetConfigName("cfg")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CSOD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Only the default working-directory lookup tolerates absence; an
		// explicitly named file must be readable.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	// A zero interval is a legal (if brutal) setting: the device expires on
	// the first liveness check. Only a negative value falls back.
	if cfg.Perception.HeartbeatInterval < 0 {
		cfg.Perception.HeartbeatInterval = 120
	}

	return cfg, nil
}

// Addr returns the host:port the perception service listens on.
func (c PerceptionConfig) Addr() string {
	return net.JoinHostPort(c.IP, c.Port)
}

// HeartbeatPeriod converts the configured interval to a duration.
func (c PerceptionConfig) HeartbeatPeriod() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}

// Addr returns the host:port of the redis instance.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.IP, c.Port)
}

// Addr returns the host:port the control service listens on.
func (c HTTPConfig) Addr() string {
	return net.JoinHostPort(c.IP, c.Port)
}
