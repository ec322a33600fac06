package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/layersync/layersync/internal/config"
	"github.com/layersync/layersync/internal/db"
	"github.com/layersync/layersync/internal/domain"
	"github.com/layersync/layersync/internal/ngw"
	"github.com/layersync/layersync/internal/store"
	"github.com/layersync/layersync/internal/sync"
)

// loadConfig loads configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if url := cmd.Flag("url").Value.String(); url != "" {
		cfg.URL = url
	}
	if token := cmd.Flag("token").Value.String(); token != "" {
		cfg.Token = token
	}
	return cfg, nil
}

// openContainer opens an existing container by name.
func openContainer(cfg *config.Config, name string) (*store.Store, error) {
	path := cfg.ContainerPath(name)
	if _, err := os.Stat(path); err != nil {
		return nil, &domain.ContainerError{Path: path, Message: "container does not exist", Err: err}
	}

	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, &domain.ContainerError{Path: path, Message: "failed to migrate container schema", Err: err}
	}
	return store.New(database), nil
}

// newEngine builds a sync engine over an open container.
func newEngine(cfg *config.Config, s *store.Store) (*sync.Engine, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no NGW URL configured (set LAYERSYNC_URL or pass --url)")
	}
	return sync.NewEngine(s, ngw.NewClient(cfg.URL, cfg.Token)), nil
}
