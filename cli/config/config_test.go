package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "chronicle", cfg.Storage.Schema)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.PollInterval.Std())
	assert.Equal(t, 100, cfg.Engine.BatchSize)
	assert.Equal(t, 1000, cfg.Engine.RebuildBatchSize)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Project.Name = "registry"
	cfg.Project.Module = "github.com/example/registry"
	cfg.Storage.URL = "postgres://localhost/registry"
	cfg.Engine.BatchSize = 250

	require.NoError(t, cfg.Save(dir))
	assert.True(t, Exists(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "registry", loaded.Project.Name)
	assert.Equal(t, "github.com/example/registry", loaded.Project.Module)
	assert.Equal(t, "postgres://localhost/registry", loaded.Storage.URL)
	assert.Equal(t, 250, loaded.Engine.BatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadFile_PartialConfigKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("project:\n  name: partial\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "partial", cfg.Project.Name)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 100, cfg.Engine.BatchSize)
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestFindConfig(t *testing.T) {
	t.Run("walks up to the project root", func(t *testing.T) {
		root := t.TempDir()
		nested := filepath.Join(root, "internal", "projections")
		require.NoError(t, os.MkdirAll(nested, 0755))

		cfg := DefaultConfig()
		cfg.Project.Name = "registry"
		require.NoError(t, cfg.Save(root))

		foundDir, found, err := FindConfig(nested)
		require.NoError(t, err)
		assert.Equal(t, root, foundDir)
		assert.Equal(t, "registry", found.Project.Name)
	})

	t.Run("no config anywhere", func(t *testing.T) {
		_, _, err := FindConfig(t.TempDir())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestDatabaseURL(t *testing.T) {
	t.Run("expands environment variables", func(t *testing.T) {
		t.Setenv("CHRONICLE_TEST_DB", "postgres://localhost/fromenv")

		cfg := DefaultConfig()
		cfg.Storage.URL = "${CHRONICLE_TEST_DB}"
		assert.Equal(t, "postgres://localhost/fromenv", cfg.DatabaseURL())
	})

	t.Run("literal URLs pass through", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.URL = "postgres://localhost/registry"
		assert.Equal(t, "postgres://localhost/registry", cfg.DatabaseURL())
	})

	t.Run("unset reference resolves empty", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.URL = "${DATABASE_URL}"
		if os.Getenv("DATABASE_URL") == "" {
			assert.Empty(t, cfg.DatabaseURL())
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid postgres config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.URL = "postgres://localhost/registry"
		assert.Empty(t, cfg.Validate())
	})

	t.Run("valid memory config needs no url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.Driver = "memory"
		assert.Empty(t, cfg.Validate())
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := &Config{
			Storage: StorageConfig{Driver: "oracle"},
			Engine:  EngineConfig{BatchSize: -1},
		}

		problems := cfg.Validate()
		assert.Contains(t, problems, "project.name is required")
		assert.Contains(t, problems, "storage.driver must be 'postgres' or 'memory'")
		assert.Contains(t, problems, "engine.batch_size must not be negative")
	})

	t.Run("postgres requires a url", func(t *testing.T) {
		cfg := DefaultConfig()
		problems := cfg.Validate()
		assert.Contains(t, problems, "storage.url is required for postgres driver")
	})
}

func TestGenerateYAML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Project.Name = "registry"
	cfg.Project.Module = "github.com/example/registry"

	content := GenerateYAML(cfg)
	assert.Contains(t, content, `name: "registry"`)
	assert.Contains(t, content, `module: "github.com/example/registry"`)
	assert.Contains(t, content, `driver: "postgres"`)
	assert.Contains(t, content, "batch_size: 100")
	assert.Contains(t, content, "rebuild_batch_size: 1000")
	assert.Contains(t, content, "${DATABASE_URL}")

	// The generated file must load back cleanly.
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "registry", loaded.Project.Name)
	assert.Equal(t, 100*time.Millisecond, loaded.Engine.PollInterval.Std())
}
