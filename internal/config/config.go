package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPAddr     = ":8080"
	DefaultStatePath    = "/var/lib/kumowatch/tokens.json"
	DefaultScanInterval = 60
	DefaultMQTTPort     = 1883
	DefaultTopicPrefix  = "kumowatch"
)

// Config is the root configuration for the kumowatch daemon, loaded from
// YAML.
type Config struct {
	Kumo  KumoConfig  `yaml:"kumo"`
	HTTP  HTTPConfig  `yaml:"http"`
	State StateConfig `yaml:"state"`
	MQTT  *MQTTConfig `yaml:"mqtt"`
}

// KumoConfig holds account and polling settings. The password lives in a
// separate file so the config itself can be world-readable.
type KumoConfig struct {
	BaseURL             string `yaml:"base_url"`
	Username            string `yaml:"username"`
	PasswordFile        string `yaml:"password_file"`
	SiteID              string `yaml:"site_id"`
	ScanIntervalSeconds int    `yaml:"scan_interval_seconds"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StateConfig controls token persistence: a local file, optionally
// mirrored to an S3-compatible blob store.
type StateConfig struct {
	Path string      `yaml:"path"`
	Blob *BlobConfig `yaml:"blob"`
}

type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

// MQTTConfig enables the state bridge when present.
type MQTTConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	TLS          bool   `yaml:"tls"`
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
	TopicPrefix  string `yaml:"topic_prefix"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.State.Path == "" {
		cfg.State.Path = DefaultStatePath
	}
	if cfg.Kumo.ScanIntervalSeconds == 0 {
		cfg.Kumo.ScanIntervalSeconds = DefaultScanInterval
	}
	if cfg.MQTT != nil {
		if cfg.MQTT.Port == 0 {
			cfg.MQTT.Port = DefaultMQTTPort
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultTopicPrefix
		}
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Kumo.Username == "" {
		return fmt.Errorf("kumo.username is required")
	}
	if cfg.Kumo.PasswordFile == "" {
		return fmt.Errorf("kumo.password_file is required")
	}
	if cfg.Kumo.SiteID == "" {
		return fmt.Errorf("kumo.site_id is required")
	}
	if cfg.Kumo.ScanIntervalSeconds < 0 {
		return fmt.Errorf("kumo.scan_interval_seconds must be positive")
	}

	if blob := cfg.State.Blob; blob != nil {
		if blob.Endpoint == "" {
			return fmt.Errorf("state.blob.endpoint is required")
		}
		if blob.Bucket == "" {
			return fmt.Errorf("state.blob.bucket is required")
		}
		if blob.AccessKeyFile == "" {
			return fmt.Errorf("state.blob.access_key_file is required")
		}
		if blob.SecretKeyFile == "" {
			return fmt.Errorf("state.blob.secret_key_file is required")
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required")
	}

	return nil
}

// ReadSecret loads a secret value from a file, trimming whitespace.
func ReadSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
