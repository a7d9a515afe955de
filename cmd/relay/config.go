package main

import (
	"errors"
	"time"

	"github.com/runbeam/relay/pkg/log"
)

type Config struct {
	// Addresses to listen on for HTTP.
	ListenHttp []string `mapstructure:"listen_http"`

	// Default job deadline.
	Timeout time.Duration `mapstructure:"timeout"`

	// Maximum chunk size on the event stream.
	ChunkSize int `mapstructure:"chunk_size"`

	// Pause between chunk events.
	ChunkInterval time.Duration `mapstructure:"chunk_interval"`

	// Interval between keep-alive events on an idle event stream.
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`

	// Heartbeat recency window for the health probe.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`

	// Maximum accepted bundle size, e.g. "50M".
	MaxBundleSize string `mapstructure:"max_bundle_size"`

	// How long to wait for active jobs during graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Whether the access gate is enforced.
	Auth bool `mapstructure:"auth"`

	// File with accepted API keys, one per line.
	ApiKeysFile string `mapstructure:"api_keys_file"`
}

func (c *Config) Validate() error {
	if len(c.ListenHttp) == 0 {
		return errors.New("At least one HTTP listen address is required")
	}

	if c.Timeout <= 0 {
		return errors.New("The job timeout must be greater than zero")
	}

	if c.ChunkSize <= 0 {
		return errors.New("The chunk size must be greater than zero")
	}

	if c.KeepAliveInterval <= 0 {
		return errors.New("The keep-alive interval must be greater than zero")
	}

	if c.HeartbeatTimeout <= 0 {
		return errors.New("The heartbeat timeout must be greater than zero")
	}

	if c.Auth && c.ApiKeysFile == "" {
		return errors.New("An API key file is required when the access gate is enabled")
	}

	return nil
}

func (c *Config) Log() {
	log.Info("Dispatcher configuration:")
	log.Infof("  listen_http = %v", c.ListenHttp)
	log.Infof("  timeout = %s", c.Timeout)
	log.Infof("  chunk_size = %d", c.ChunkSize)
	log.Infof("  chunk_interval = %s", c.ChunkInterval)
	log.Infof("  keep_alive_interval = %s", c.KeepAliveInterval)
	log.Infof("  heartbeat_timeout = %s", c.HeartbeatTimeout)
	log.Infof("  max_bundle_size = %s", c.MaxBundleSize)
	log.Infof("  shutdown_timeout = %s", c.ShutdownTimeout)
	log.Infof("  auth = %v", c.Auth)
	log.Infof("  api_keys_file = %s", c.ApiKeysFile)
}
