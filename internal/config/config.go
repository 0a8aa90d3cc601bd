// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// DatabaseRuleCacheTTL is the rule cache TTL used with a database when
// RULE_CACHE_TTL is not set. Rules written by cmd/seed or another replica
// become visible once cached lists expire.
const DatabaseRuleCacheTTL = 30 * time.Second

// Config is shared by the server, seed and migrate commands.
type Config struct {
	// DatabaseURL selects the Postgres stores; empty runs fully in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	Port        int    `env:"PORT" envDefault:"8080"`

	// RulesFile seeds the rule store at startup in memory mode.
	RulesFile string `env:"RULES_FILE"`

	EngineWorkers         int     `env:"ENGINE_WORKERS" envDefault:"4"`
	MaxVoltageDropPercent float64 `env:"MAX_VOLTAGE_DROP_PERCENT" envDefault:"3.0"`

	// RuleCacheTTL of 0 keeps cached rule lists until a mutation through
	// this process invalidates them. Unset with a database it is
	// DatabaseRuleCacheTTL.
	RuleCacheTTL time.Duration `env:"RULE_CACHE_TTL" envDefault:"0s"`

	// OTelEndpoint is the OTLP/HTTP trace endpoint; empty disables tracing.
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`

	MigrationsPath  string        `env:"MIGRATIONS_PATH" envDefault:"migrations"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if os.Getenv("RULE_CACHE_TTL") == "" && !cfg.InMemory() {
		cfg.RuleCacheTTL = DatabaseRuleCacheTTL
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges the env tags cannot express.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.EngineWorkers < 1 {
		return fmt.Errorf("ENGINE_WORKERS must be at least 1, got %d", c.EngineWorkers)
	}
	if c.RuleCacheTTL < 0 {
		return fmt.Errorf("RULE_CACHE_TTL cannot be negative")
	}
	if c.MaxVoltageDropPercent <= 0 || c.MaxVoltageDropPercent > 100 {
		return fmt.Errorf("MAX_VOLTAGE_DROP_PERCENT must be in (0, 100], got %v", c.MaxVoltageDropPercent)
	}
	return nil
}

// InMemory reports whether no database is configured.
func (c Config) InMemory() bool {
	return c.DatabaseURL == ""
}

// Addr is the listen address of the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
