package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	DefaultEmbeddingModel string `envconfig:"DEFAULT_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	DefaultEmbeddingDim   int    `envconfig:"DEFAULT_EMBEDDING_DIM" default:"1536"`

	// Background job processing.
	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"5s"`

	// Reconciliation sweeps. A zero interval disables the periodic sweep;
	// the /reconcile endpoint remains available either way.
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"10m"`
	ReconcileLeaseTTL time.Duration `envconfig:"RECONCILE_LEASE_TTL" default:"5m"`

	// Wall-clock budget for retrying searches against an index that is
	// still being provisioned.
	SearchRetryBudget time.Duration `envconfig:"SEARCH_RETRY_BUDGET" default:"30s"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("VECTIS", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
