package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override the configuration.
const (
	EnvSeed        = "QNETSIM_SEED"
	EnvRelays      = "QNETSIM_RELAYS"
	EnvLogLevel    = "QNETSIM_LOG_LEVEL"
	EnvDatabase    = "QNETSIM_DB"
	EnvMonitorPort = "QNETSIM_MONITOR_PORT"
)

// LoadDotEnv loads the given .env files into the environment. Variables that
// are already set win. A missing default ".env" file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
	}

	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}

	return nil
}

// ApplyEnv overrides the configuration with the QNETSIM_* variables that are
// set.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

// ApplyEnvMap overrides the configuration with the QNETSIM_* entries of a
// map, as read by godotenv.Read.
func (c *Config) ApplyEnvMap(env map[string]string) error {
	return c.applyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSeed); ok {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSeed, err)
		}

		c.Seed = seed
	}

	if v, ok := lookup(EnvRelays); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRelays, err)
		}

		c.Chain.Relays = n
	}

	if v, ok := lookup(EnvMonitorPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMonitorPort, err)
		}

		c.Monitor.Enabled = true
		c.Monitor.Port = port
	}

	if v, ok := lookup(EnvLogLevel); ok {
		c.Output.LogLevel = v
	}

	if v, ok := lookup(EnvDatabase); ok {
		c.Output.Database = v
	}

	return nil
}
