// Package config holds the server registry and the environment settings
// that tune a run.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings are process-wide knobs read from MCPDRIVE_* environment
// variables. Zero values mean unset; downstream packages apply their own
// defaults, so a default never lives in two places.
type Settings struct {
	// Debug turns on debug-level logging and stderr forwarding.
	Debug bool `env:"MCPDRIVE_DEBUG"`
	// LogPath overrides the log destination. "-" selects stderr.
	LogPath string `env:"MCPDRIVE_LOG"`
	// RegistryPath overrides the server registry file location.
	RegistryPath string `env:"MCPDRIVE_SERVERS"`

	CallTimeout      time.Duration `env:"MCPDRIVE_CALL_TIMEOUT"`
	TerminateTimeout time.Duration `env:"MCPDRIVE_TERMINATE_TIMEOUT"`
	StartupDelay     time.Duration `env:"MCPDRIVE_STARTUP_DELAY"`
}

// FromEnv loads Settings from the environment.
func FromEnv() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}
