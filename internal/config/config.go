// Package config loads process configuration from the environment and resolves
// per-bot and per-group settings from the config store.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/easeaico/roza/internal/storage"
)

// Config holds runtime settings.
type Config struct {
	Store         string `env:"ROZA_STORE" envDefault:"mongo"`
	MongoURL      string `env:"MONGO_URL"`
	Database      string `env:"ROZA_DATABASE" envDefault:"roza_database"`
	DatabaseURL   string `env:"DATABASE_URL"`
	Timezone      string `env:"ROZA_TIMEZONE" envDefault:"Asia/Shanghai"`
	Debug         bool   `env:"ROZA_DEBUG"`
	CommandPrefix string `env:"ROZA_COMMAND_PREFIX" envDefault:"/Roza."`
}

// Load reads an optional .env file, then parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks that the selected backend is addressable.
func (c Config) Validate() error {
	switch c.Store {
	case storage.DriverMongo:
		if c.MongoURL == "" {
			return errors.New("MONGO_URL is required when ROZA_STORE=mongo")
		}
	case storage.DriverPostgres, storage.DriverSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when ROZA_STORE=%s", c.Store)
		}
	case storage.DriverMemory:
	default:
		return fmt.Errorf("unknown ROZA_STORE %q", c.Store)
	}
	if c.CommandPrefix == "" {
		return errors.New("ROZA_COMMAND_PREFIX must not be empty")
	}
	return nil
}

// StoreOptions maps the config onto storage options.
func (c Config) StoreOptions() storage.Options {
	url := c.DatabaseURL
	if c.Store == storage.DriverMongo || c.Store == "" {
		url = c.MongoURL
	}
	return storage.Options{Driver: c.Store, URL: url, Database: c.Database}
}

// Location returns the configured zone. Hosts without tzdata fall back to UTC+8.
func (c Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return BeijingTime()
}

// BeijingTime is the fixed UTC+8 zone the bot reasons in.
func BeijingTime() *time.Location {
	return time.FixedZone("CST", 8*60*60)
}
