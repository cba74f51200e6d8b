// Package config loads the host's YAML configuration.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all host configuration.
type Config struct {
	// DataDir is where the host/mobile record file lives.
	DataDir string `yaml:"data_dir"`
	// StoreFile is the record file name inside DataDir.
	StoreFile string `yaml:"store_file"`
	// DeviceName is the advertised BLE name.
	DeviceName string `yaml:"device_name"`
	// RequestQueueSize bounds the dispatcher queue; producers block when
	// it is full.
	RequestQueueSize int `yaml:"request_queue_size"`
	// BufferSizeLimit caps one chunked transfer, in bytes.
	BufferSizeLimit int `yaml:"buffer_size_limit"`
	// SubscriberQueueSize caps chunks queued per topic subscriber.
	SubscriberQueueSize int `yaml:"subscriber_queue_size"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "webcam-direct")
}

// Default returns a Config with working values.
func Default() *Config {
	return &Config{
		DataDir:             DefaultDataDir(),
		StoreFile:           "webcam-direct-config.json",
		DeviceName:          "WebcamDirect",
		RequestQueueSize:    32,
		BufferSizeLimit:     64 * 1024,
		SubscriberQueueSize: 128,
		LogLevel:            "info",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	return cfg, nil
}

// Validate checks the config for unusable values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	if c.StoreFile == "" {
		return errors.New("store_file must not be empty")
	}
	if c.DeviceName == "" {
		return errors.New("device_name must not be empty")
	}
	if c.RequestQueueSize < 1 {
		return errors.New("request_queue_size must be >= 1")
	}
	if c.BufferSizeLimit < 1 {
		return errors.New("buffer_size_limit must be >= 1")
	}
	if c.SubscriberQueueSize < 1 {
		return errors.New("subscriber_queue_size must be >= 1")
	}
	return nil
}
