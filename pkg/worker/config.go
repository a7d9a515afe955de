package worker

import (
	"errors"
	"net/url"
	"time"

	"github.com/runbeam/relay/pkg/log"
)

type Config struct {
	// Base URL of the dispatcher service.
	ServerUri string `mapstructure:"server_uri"`

	// Session token presented on the worker-facing endpoints.
	SessionToken string `mapstructure:"session_token"`

	// Test engine command. Occurrences of {bundle} are replaced with
	// the path of the reassembled bundle file.
	EngineCmd []string `mapstructure:"engine_cmd"`

	// Engine execution timeout. Keep it shorter than the dispatcher
	// deadline so that an engine failure reaches the dispatcher
	// before it gives up on the job.
	EngineTimeout time.Duration `mapstructure:"engine_timeout"`

	// Working directory for the engine command.
	WorkDir string `mapstructure:"work_dir"`

	// Interval between liveness heartbeats.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// Idle window after which the event stream is considered dead.
	// Zero disables idle detection.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// Reconnection policy.
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay"`
}

// Checks if the worker configuration is valid.
func (c *Config) Validate() error {
	if c.ServerUri == "" {
		return errors.New("A dispatcher server URI is required")
	}

	uri, err := url.Parse(c.ServerUri)
	if err != nil || (uri.Scheme != "http" && uri.Scheme != "https") {
		return errors.New("The dispatcher server URI is not a valid http(s) URI")
	}

	if len(c.EngineCmd) == 0 {
		return errors.New("A test engine command is required")
	}

	if c.EngineTimeout <= 0 {
		return errors.New("The engine timeout must be greater than zero")
	}

	if c.HeartbeatInterval <= 0 {
		return errors.New("The heartbeat interval must be greater than zero")
	}

	if c.MaxReconnectAttempts <= 0 {
		return errors.New("The maximum reconnect attempt count must be greater than zero")
	}

	if c.MaxReconnectDelay <= 0 {
		return errors.New("The maximum reconnect delay must be greater than zero")
	}

	return nil
}

func (c *Config) Log() {
	log.Info("Worker configuration:")
	log.Infof("  server_uri = %s", c.ServerUri)
	log.Infof("  engine_cmd = %v", c.EngineCmd)
	log.Infof("  engine_timeout = %s", c.EngineTimeout)
	log.Infof("  work_dir = %s", c.WorkDir)
	log.Infof("  heartbeat_interval = %s", c.HeartbeatInterval)
	log.Infof("  idle_timeout = %s", c.IdleTimeout)
	log.Infof("  max_reconnect_attempts = %d", c.MaxReconnectAttempts)
	log.Infof("  max_reconnect_delay = %s", c.MaxReconnectDelay)
}
