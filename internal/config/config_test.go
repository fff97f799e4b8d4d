package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://tracker@localhost/tracking")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StoreDriver != "postgres" {
		t.Errorf("StoreDriver = %q, want postgres", cfg.StoreDriver)
	}
	if cfg.MQTTTopicLocation != "geo-tracking/location" {
		t.Errorf("MQTTTopicLocation = %q", cfg.MQTTTopicLocation)
	}
	if cfg.MQTTConnectTimeout != 5*time.Second {
		t.Errorf("MQTTConnectTimeout = %v, want 5s", cfg.MQTTConnectTimeout)
	}
	if cfg.MQTTReconnectBase != time.Second || cfg.MQTTReconnectMax != 2*time.Minute {
		t.Errorf("reconnect backoff = %v..%v, want 1s..2m", cfg.MQTTReconnectBase, cfg.MQTTReconnectMax)
	}
	if cfg.MQTTMaxReconnectAttempts != 10 {
		t.Errorf("MQTTMaxReconnectAttempts = %d, want 10", cfg.MQTTMaxReconnectAttempts)
	}
	if cfg.IdleThreshold() != time.Hour {
		t.Errorf("IdleThreshold = %v, want 1h", cfg.IdleThreshold())
	}
	if cfg.IdleSweepInterval() != time.Hour {
		t.Errorf("IdleSweepInterval = %v, want threshold", cfg.IdleSweepInterval())
	}
	if cfg.MQTTClientID == "" {
		t.Error("MQTTClientID should be generated when unset")
	}
	if cfg.MQTTAuthEnabled() {
		t.Error("MQTT auth should be disabled without credentials")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/tracking.db")
	t.Setenv("PING_INTERVAL_SECONDS", "30")
	t.Setenv("IDLE_SWEEP_INTERVAL_SECONDS", "10")
	t.Setenv("MQTT_ENABLED", "false")
	t.Setenv("MQTT_USERNAME", "user")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("MQTT_RECONNECT_MAX", "30s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDriver != "sqlite" || cfg.SQLitePath != "/tmp/tracking.db" {
		t.Errorf("store = %q %q", cfg.StoreDriver, cfg.SQLitePath)
	}
	if cfg.IdleThreshold() != 30*time.Second {
		t.Errorf("IdleThreshold = %v, want 30s", cfg.IdleThreshold())
	}
	if cfg.IdleSweepInterval() != 10*time.Second {
		t.Errorf("IdleSweepInterval = %v, want 10s", cfg.IdleSweepInterval())
	}
	if cfg.MQTTEnabled {
		t.Error("MQTTEnabled should be false")
	}
	if !cfg.MQTTAuthEnabled() {
		t.Error("MQTT auth should be enabled with both credentials")
	}
	if cfg.MQTTReconnectMax != 30*time.Second {
		t.Errorf("MQTTReconnectMax = %v, want 30s", cfg.MQTTReconnectMax)
	}
	brokers := cfg.KafkaBrokersList()
	if len(brokers) != 2 || brokers[0] != "k1:9092" || brokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokersList = %v", brokers)
	}
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"zero idle threshold", map[string]string{"DATABASE_URL": "postgres://x", "PING_INTERVAL_SECONDS": "0"}},
		{"negative reconnect ceiling", map[string]string{"DATABASE_URL": "postgres://x", "MQTT_MAX_RECONNECT_ATTEMPTS": "-1"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
