package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := LoadFromEnv()
		assert.Equal(t, BackendBadger, c.Storage.Backend)
		assert.Equal(t, "./data", c.Storage.DataDir)
		assert.Equal(t, "-", c.Identifiers.HierarchySeparator)
		assert.Equal(t, "_", c.Identifiers.SlugSeparator)
		assert.Equal(t, "info", c.Logging.Level)
		require.NoError(t, c.Validate())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("BUNDLEDB_BACKEND", "sqlite")
		t.Setenv("BUNDLEDB_DATA_DIR", "/tmp/b")
		t.Setenv("BUNDLEDB_IN_MEMORY", "yes")
		t.Setenv("BUNDLEDB_MAX_DEPTH", "8")
		t.Setenv("BUNDLEDB_LOG_LEVEL", "debug")
		t.Setenv("BUNDLEDB_METRICS_ENABLED", "1")
		t.Setenv("BUNDLEDB_IMPORT_TOLERANT", "true")

		c := LoadFromEnv()
		assert.Equal(t, BackendSQLite, c.Storage.Backend)
		assert.Equal(t, "/tmp/b", c.Storage.DataDir)
		assert.True(t, c.Storage.InMemory)
		assert.Equal(t, 8, c.Storage.MaxDepth)
		assert.Equal(t, "debug", c.Logging.Level)
		assert.True(t, c.Metrics.Enabled)
		assert.True(t, c.Import.Tolerant)
	})

	t.Run("bad int keeps default", func(t *testing.T) {
		t.Setenv("BUNDLEDB_MAX_DEPTH", "deep")
		assert.Equal(t, 32, LoadFromEnv().Storage.MaxDepth)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundledb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: postgres
  dsn: postgres://localhost/bundledb
identifiers:
  slug_separator: "~"
logging:
  level: warn
`), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, c.Storage.Backend)
	assert.Equal(t, "postgres://localhost/bundledb", c.Storage.DSN)
	assert.Equal(t, "~", c.Identifiers.SlugSeparator)
	assert.Equal(t, "-", c.Identifiers.HierarchySeparator, "unset keys keep defaults")
	require.NoError(t, c.Validate())

	t.Run("env wins over file", func(t *testing.T) {
		t.Setenv("BUNDLEDB_LOG_LEVEL", "error")
		c, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "error", c.Logging.Level)
		assert.Equal(t, BackendPostgres, c.Storage.Backend)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("storage: [1, 2"), 0o644))
		_, err := LoadFile(bad)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"memory", func(c *Config) { c.Storage.Backend = BackendMemory }, ""},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, "unknown storage backend"},
		{"badger without dir", func(c *Config) { c.Storage.DataDir = "" }, "data dir"},
		{"badger in memory", func(c *Config) { c.Storage.DataDir = ""; c.Storage.InMemory = true }, ""},
		{"sqlite without dir", func(c *Config) { c.Storage.Backend = BackendSQLite; c.Storage.DataDir = "" }, "data dir"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, "dsn"},
		{"negative depth", func(c *Config) { c.Storage.MaxDepth = -1 }, "max depth"},
		{"same separators", func(c *Config) { c.Identifiers.SlugSeparator = "-" }, "must differ"},
		{"empty separator", func(c *Config) { c.Identifiers.SlugSeparator = "" }, "must not be empty"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Generator(t *testing.T) {
	c := Default()
	c.Identifiers.SlugSeparator = "~"
	g, err := c.Generator()
	require.NoError(t, err)
	assert.Equal(t, "~", g.SlugSeparator)
	assert.Equal(t, "-", g.HierarchySeparator)
}

func TestConfig_StringHidesDSN(t *testing.T) {
	c := Default()
	c.Storage.DSN = "postgres://admin:secret@db/bundledb"
	assert.NotContains(t, c.String(), "secret")
}
