package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hivecrack/hivecrack/pkg/debug"
	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the task distribution engine.
// All values come from environment variables; a .env file is loaded first if
// present so development setups stay close to the deployed layout.
type Config struct {
	// DatabaseURL is the Postgres connection string
	DatabaseURL string

	// Host and Port for the HTTP listener
	Host string
	Port int

	// AgentStaleAfter is how long an agent may go without a heartbeat before
	// it becomes ineligible for new task assignment
	AgentStaleAfter time.Duration

	// ChunkDuration is the target wall-clock duration of one task slice
	ChunkDuration time.Duration

	// ChunkFluctuationPercent controls when a trailing sliver of keyspace is
	// merged into the previous slice instead of becoming its own task
	ChunkFluctuationPercent int

	// RebalanceInterval optionally runs the rebalancer on a timer in addition
	// to the inline status-update trigger. Zero disables the timer.
	RebalanceInterval time.Duration

	// TaskPruneInterval controls how often tasks of failed attacks are purged.
	// Zero disables the pruner.
	TaskPruneInterval time.Duration
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		debug.Debug("No .env file found, using environment variables only")
	}

	cfg := &Config{
		DatabaseURL:             getEnv("DATABASE_URL", "postgres://localhost:5432/hivecrack?sslmode=disable"),
		Host:                    getEnv("HOST", "0.0.0.0"),
		Port:                    getEnvInt("PORT", 8080),
		AgentStaleAfter:         getEnvDuration("AGENT_STALE_AFTER", 5*time.Minute),
		ChunkDuration:           getEnvDuration("CHUNK_DURATION", 20*time.Minute),
		ChunkFluctuationPercent: getEnvInt("CHUNK_FLUCTUATION_PERCENT", 20),
		RebalanceInterval:       getEnvDuration("REBALANCE_INTERVAL", 0),
		TaskPruneInterval:       getEnvDuration("TASK_PRUNE_INTERVAL", 15*time.Minute),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ChunkFluctuationPercent < 0 || cfg.ChunkFluctuationPercent > 100 {
		return nil, fmt.Errorf("CHUNK_FLUCTUATION_PERCENT must be 0-100, got %d", cfg.ChunkFluctuationPercent)
	}

	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		debug.Warning("Invalid integer for %s: %q, using default %d", key, v, fallback)
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		debug.Warning("Invalid duration for %s: %q, using default %s", key, v, fallback)
		return fallback
	}
	return parsed
}
