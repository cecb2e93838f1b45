package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Broadcast BroadcastConfig `mapstructure:"broadcast" yaml:"broadcast"`
	PubSub    PubSubConfig    `mapstructure:"pubsub" yaml:"pubsub"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" yaml:"port"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	UpgradeRate     float64       `mapstructure:"upgrade_rate" yaml:"upgrade_rate"`
	UpgradeBurst    int           `mapstructure:"upgrade_burst" yaml:"upgrade_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type BroadcastConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type PubSubConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

type RedisConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	ChannelPrefix string `mapstructure:"channel_prefix" yaml:"channel_prefix"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// InteractURL is the address producers open on their phones.
func (c *Config) InteractURL() string {
	return strings.TrimSuffix(c.Server.BaseURL, "/") + "/interact"
}

// MirrorEnabled reports whether display and count feeds are mirrored to Redis.
func (c *Config) MirrorEnabled() bool {
	return c.Redis.URL != ""
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.upgrade_rate", 50.0)
	v.SetDefault("server.upgrade_burst", 100)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("broadcast.interval", "200ms")
	v.SetDefault("pubsub.buffer_size", 64)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel_prefix", "crowdpointer")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("CROWDPOINTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Conventional PORT wins when the platform sets it
	_ = v.BindEnv("server.port", "CROWDPOINTER_SERVER_PORT", "PORT")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("crowdpointer")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
