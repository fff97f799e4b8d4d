// Package config loads the tracking server configuration from the environment using Viper.
package config

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// Store
	StoreDriver          string `mapstructure:"STORE_DRIVER"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	SQLitePath           string `mapstructure:"SQLITE_PATH"`
	DBMaxOpenConns       int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns       int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMin int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	// Redis pointer cache; optional.
	RedisURL      string `mapstructure:"REDIS_URL"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// Broker bridge
	MQTTEnabled              bool          `mapstructure:"MQTT_ENABLED"`
	MQTTBrokerURL            string        `mapstructure:"MQTT_BROKER_URL"`
	MQTTClientID             string        `mapstructure:"MQTT_CLIENT_ID"`
	MQTTUsername             string        `mapstructure:"MQTT_USERNAME"`
	MQTTPassword             string        `mapstructure:"MQTT_PASSWORD"`
	MQTTTopicLocation        string        `mapstructure:"MQTT_TOPIC_LOCATION"`
	MQTTTopicDeviceStatus    string        `mapstructure:"MQTT_TOPIC_DEVICE_STATUS"`
	MQTTTopicCommands        string        `mapstructure:"MQTT_TOPIC_COMMANDS"`
	MQTTConnectTimeout       time.Duration `mapstructure:"MQTT_CONNECT_TIMEOUT"`
	MQTTReconnectBase        time.Duration `mapstructure:"MQTT_RECONNECT_BASE"`
	MQTTReconnectMax         time.Duration `mapstructure:"MQTT_RECONNECT_MAX"`
	MQTTMaxReconnectAttempts int           `mapstructure:"MQTT_MAX_RECONNECT_ATTEMPTS"`

	// Idle reaper. PING_INTERVAL_SECONDS is the idle threshold; the sweep
	// period defaults to the same value.
	IdleThresholdSeconds     int `mapstructure:"PING_INTERVAL_SECONDS"`
	IdleSweepIntervalSeconds int `mapstructure:"IDLE_SWEEP_INTERVAL_SECONDS"`

	// Kafka mirror of broadcast events; optional.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`
}

// Load builds Config from the environment (AutomaticEnv) on top of defaults.
// The .env file, if any, is loaded by the caller with godotenv before Load.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "data/tracking.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("MQTT_ENABLED", true)
	v.SetDefault("MQTT_BROKER_URL", "tcp://broker.emqx.io:1883")
	v.SetDefault("MQTT_CLIENT_ID", "")
	v.SetDefault("MQTT_USERNAME", "")
	v.SetDefault("MQTT_PASSWORD", "")
	v.SetDefault("MQTT_TOPIC_LOCATION", "geo-tracking/location")
	v.SetDefault("MQTT_TOPIC_DEVICE_STATUS", "geo-tracking/device/status")
	v.SetDefault("MQTT_TOPIC_COMMANDS", "geo-tracking/commands")
	v.SetDefault("MQTT_CONNECT_TIMEOUT", "5s")
	v.SetDefault("MQTT_RECONNECT_BASE", "1s")
	v.SetDefault("MQTT_RECONNECT_MAX", "2m")
	v.SetDefault("MQTT_MAX_RECONNECT_ATTEMPTS", 10)
	v.SetDefault("PING_INTERVAL_SECONDS", 3600)
	v.SetDefault("IDLE_SWEEP_INTERVAL_SECONDS", 0)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "geo-tracking-pointers")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Port == "" {
		return nil, errors.New("config: PORT must be set")
	}
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when STORE_DRIVER=postgres")
		}
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, errors.New("config: SQLITE_PATH must be set when STORE_DRIVER=sqlite")
		}
	default:
		return nil, fmt.Errorf("config: unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.IdleThresholdSeconds <= 0 {
		return nil, errors.New("config: PING_INTERVAL_SECONDS must be positive")
	}
	if cfg.MQTTMaxReconnectAttempts < 0 {
		return nil, errors.New("config: MQTT_MAX_RECONNECT_ATTEMPTS must not be negative")
	}
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = fmt.Sprintf("geo-tracking-service-%08x", rand.Uint32())
	}

	return &cfg, nil
}

func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdSeconds) * time.Second
}

// IdleSweepInterval falls back to the idle threshold when unset.
func (c *Config) IdleSweepInterval() time.Duration {
	if c.IdleSweepIntervalSeconds <= 0 {
		return c.IdleThreshold()
	}
	return time.Duration(c.IdleSweepIntervalSeconds) * time.Second
}

func (c *Config) AllowedOriginsList() []string {
	return splitCSV(c.AllowedOrigins)
}

func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitCSV(c.KafkaBrokers)
}

// MQTTAuthEnabled reports whether both credentials are present.
func (c *Config) MQTTAuthEnabled() bool {
	return c.MQTTUsername != "" && c.MQTTPassword != ""
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
