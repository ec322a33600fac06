package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LAYERSYNC_URL", "")
	t.Setenv("LAYERSYNC_TOKEN", "")
	t.Setenv("LAYERSYNC_TOKEN_FILE", "")
	t.Setenv("LAYERSYNC_CONNECTION_ID", "")
	t.Setenv("LAYERSYNC_CONTAINER_DIR", "")
	t.Setenv("LAYERSYNC_OUTPUT", "")
	// Point HOME somewhere empty so no real config.yaml leaks in.
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ConnectionID != "default" {
		t.Errorf("ConnectionID = %q, want default", cfg.ConnectionID)
	}
	if cfg.Output != "table" {
		t.Errorf("Output = %q, want table", cfg.Output)
	}
	if cfg.ContainerDir == "" {
		t.Error("ContainerDir should fall back to a home-relative default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LAYERSYNC_URL", "https://ngw.example.com")
	t.Setenv("LAYERSYNC_TOKEN", "secret")
	t.Setenv("LAYERSYNC_CONNECTION_ID", "staging")
	t.Setenv("LAYERSYNC_CONTAINER_DIR", "/tmp/containers")
	t.Setenv("LAYERSYNC_OUTPUT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.URL != "https://ngw.example.com" {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.Token != "secret" {
		t.Errorf("Token = %q", cfg.Token)
	}
	if cfg.ConnectionID != "staging" {
		t.Errorf("ConnectionID = %q", cfg.ConnectionID)
	}
	if cfg.ContainerDir != "/tmp/containers" {
		t.Errorf("ContainerDir = %q", cfg.ContainerDir)
	}
	if cfg.Output != "json" {
		t.Errorf("Output = %q", cfg.Output)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("LAYERSYNC_URL", "")
	t.Setenv("LAYERSYNC_TOKEN", "")
	t.Setenv("LAYERSYNC_TOKEN_FILE", "")
	t.Setenv("LAYERSYNC_CONNECTION_ID", "")
	t.Setenv("LAYERSYNC_CONTAINER_DIR", "")
	t.Setenv("LAYERSYNC_OUTPUT", "")

	configDir := filepath.Join(home, ".config", "layersync")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatal(err)
	}
	yamlContent := "url: https://yaml.example.com\nconnection_id: from-yaml\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.URL != "https://yaml.example.com" {
		t.Errorf("URL = %q, want the YAML value", cfg.URL)
	}
	if cfg.ConnectionID != "from-yaml" {
		t.Errorf("ConnectionID = %q, want the YAML value", cfg.ConnectionID)
	}

	t.Run("env wins over yaml", func(t *testing.T) {
		t.Setenv("LAYERSYNC_URL", "https://env.example.com")
		cfg, err := Load()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.URL != "https://env.example.com" {
			t.Errorf("URL = %q, want the env value", cfg.URL)
		}
	})
}

func TestGetEnvOrFile(t *testing.T) {
	t.Run("env value wins", func(t *testing.T) {
		t.Setenv("TESTCFG_VAL", "direct")
		t.Setenv("TESTCFG_VAL_FILE", "/nonexistent")
		if got := getEnvOrFile("TESTCFG_VAL", "TESTCFG_VAL_FILE"); got != "direct" {
			t.Errorf("got %q, want direct", got)
		}
	})

	t.Run("file variant", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		if err := os.WriteFile(path, []byte("from-file"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("TESTCFG_VAL", "")
		t.Setenv("TESTCFG_VAL_FILE", path)
		if got := getEnvOrFile("TESTCFG_VAL", "TESTCFG_VAL_FILE"); got != "from-file" {
			t.Errorf("got %q, want from-file", got)
		}
	})

	t.Run("neither set", func(t *testing.T) {
		t.Setenv("TESTCFG_VAL", "")
		t.Setenv("TESTCFG_VAL_FILE", "")
		if got := getEnvOrFile("TESTCFG_VAL", "TESTCFG_VAL_FILE"); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
}

func TestContainerPath(t *testing.T) {
	cfg := &Config{ContainerDir: "/data/containers"}
	if got := cfg.ContainerPath("parcels"); got != "/data/containers/parcels.gpkg" {
		t.Errorf("ContainerPath = %q", got)
	}
}

func TestFindEnvLocal(t *testing.T) {
	t.Run("closest wins", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("HOME", tmpDir)
		parentDir := filepath.Join(tmpDir, "parent")
		childDir := filepath.Join(parentDir, "child")
		if err := os.MkdirAll(childDir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(tmpDir, ".env.local"), []byte("A=outer"), 0644); err != nil {
			t.Fatal(err)
		}
		parentEnv := filepath.Join(parentDir, ".env.local")
		if err := os.WriteFile(parentEnv, []byte("A=inner"), 0644); err != nil {
			t.Fatal(err)
		}

		oldCwd, _ := os.Getwd()
		defer os.Chdir(oldCwd)
		if err := os.Chdir(childDir); err != nil {
			t.Fatal(err)
		}

		result := findEnvLocal()
		// Resolve symlinks for comparison (macOS /var -> /private/var)
		wantResolved, _ := filepath.EvalSymlinks(parentEnv)
		gotResolved, _ := filepath.EvalSymlinks(result)
		if gotResolved != wantResolved {
			t.Errorf("expected closest .env.local (%s), got %s", wantResolved, gotResolved)
		}
	})

	t.Run("not found", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("HOME", tmpDir)
		oldCwd, _ := os.Getwd()
		defer os.Chdir(oldCwd)
		if err := os.Chdir(tmpDir); err != nil {
			t.Fatal(err)
		}

		if result := findEnvLocal(); result != "" {
			t.Errorf("expected empty string when no .env.local found, got %s", result)
		}
	})
}
