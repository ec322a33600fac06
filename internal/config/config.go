// Package config loads the tool configuration from the environment, an
// optional .env.local file, and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// URL is the base URL of the NGW instance.
	URL string `yaml:"url"`
	// Token is the bearer token for authenticated access. Empty means
	// anonymous.
	Token string `yaml:"token"`
	// ConnectionID names the connection profile recorded in containers.
	ConnectionID string `yaml:"connection_id"`
	// ContainerDir is where container databases live.
	ContainerDir string `yaml:"container_dir"`
	// Output selects the CLI output style (table or json).
	Output string `yaml:"output"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables (LAYERSYNC_*)
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/layersync/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		ConnectionID: "default",
		Output:       "table",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// Load ~/.config/layersync/config.yaml if it exists
	if err := loadYAMLConfig(cfg); err != nil {
		// YAML config is optional, so we don't fail if it doesn't exist
	}

	// Override with environment variables
	if url := os.Getenv("LAYERSYNC_URL"); url != "" {
		cfg.URL = url
	}
	if token := getEnvOrFile("LAYERSYNC_TOKEN", "LAYERSYNC_TOKEN_FILE"); token != "" {
		cfg.Token = token
	}
	if connection := os.Getenv("LAYERSYNC_CONNECTION_ID"); connection != "" {
		cfg.ConnectionID = connection
	}
	if dir := os.Getenv("LAYERSYNC_CONTAINER_DIR"); dir != "" {
		cfg.ContainerDir = dir
	}
	if output := os.Getenv("LAYERSYNC_OUTPUT"); output != "" {
		cfg.Output = output
	}

	if cfg.ContainerDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.ContainerDir = filepath.Join(homeDir, ".local", "share", "layersync", "containers")
	}

	return cfg, nil
}

// ContainerPath returns the database path for a named container.
func (c *Config) ContainerPath(name string) string {
	return filepath.Join(c.ContainerDir, name+".gpkg")
}

// loadYAMLConfig loads configuration from ~/.config/layersync/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "layersync", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return string(data)
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, just check cwd
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Clean paths for reliable comparison
	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		// Stop if we've reached home directory
		if dir == homeDir {
			break
		}

		// Get parent directory
		parent := filepath.Dir(dir)

		// Stop if we've reached the filesystem root
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
