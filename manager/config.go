package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the event manager configuration.
type Config struct {
	// MQTT broker connection settings
	MQTT MQTTConfig `yaml:"mqtt"`

	// Store settings
	Store StoreConfig `yaml:"store"`

	// Ingress queue settings
	Queue QueueConfig `yaml:"queue"`
}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	BrokerURL      string `yaml:"broker_url"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
	ReconnectWait  int    `yaml:"reconnect_wait_ms"`
}

// StoreConfig holds database settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig holds ingress queue settings. DequeueWait bounds how long the
// dispatcher blocks before rechecking the stop flag.
type QueueConfig struct {
	Capacity    int `yaml:"capacity"`
	DequeueWait int `yaml:"dequeue_wait_ms"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Use defaults if no config file
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			BrokerURL:      "tcp://localhost:1883",
			ClientIDPrefix: "pgl-manager",
			ReconnectWait:  2000,
		},
		Store: StoreConfig{
			Path: "/var/lib/pgl/events.db",
		},
		Queue: QueueConfig{
			Capacity:    100,
			DequeueWait: 1000,
		},
	}
}
