package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// CLI is the maintenance tool configuration, loaded from the environment.
// Flags may override individual fields.
type CLI struct {
	// Engine selects the storage engine: memory, bolt, or sqlite.
	Engine string `env:"ACTORSTORE_ENGINE" envDefault:"memory"`

	// Path is the on-disk database path for the bolt and sqlite engines.
	Path string `env:"ACTORSTORE_PATH"`

	// HasAlarmHandler declares alarm-handling capability for the actor the
	// tool operates on. Without it, alarm writes are rejected.
	HasAlarmHandler bool `env:"ACTORSTORE_ALARM_HANDLER" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
