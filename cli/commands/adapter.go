package commands

import (
	"fmt"
	"os"

	"github.com/chronicle-es/go-chronicle/adapters/postgres"
	"github.com/chronicle-es/go-chronicle/cli/config"
)

// loadConfig locates and loads chronicle.yaml, searching upward from the
// current directory.
func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	_, cfg, err := config.FindConfig(cwd)
	if err != nil {
		return nil, fmt.Errorf("no %s found: %w", config.ConfigFileName, err)
	}

	return cfg, nil
}

// openAdapter connects to the configured postgres backend. The memory
// driver has no out-of-process state, so commands that need a backend
// report that instead of connecting.
func openAdapter(cfg *config.Config) (*postgres.Adapter, error) {
	if cfg.Storage.Driver == "memory" {
		return nil, fmt.Errorf("memory driver keeps all state in-process; nothing to inspect")
	}

	dbURL := cfg.DatabaseURL()
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	return postgres.NewAdapter(dbURL, postgres.WithSchema(cfg.Storage.Schema))
}
