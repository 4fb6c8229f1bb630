package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Credit.ExpiryYears)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = "127.0.0.1:9090"
shutdown_timeout = "3s"

[store]
driver = "postgres"
dsn = "postgres://localhost/registry"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "json", cfg.Log.Format, "unset keys keep their default")
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "[store]\ndriverr = \"sqlite\"\n"},
		{"unknown driver", "[store]\ndriver = \"mongo\"\n"},
		{"missing dsn", "[store]\ndriver = \"postgres\"\ndsn = \"\"\n"},
		{"bad expiry", "[credit]\nexpiry_years = 0\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"bad duration", "[server]\nshutdown_timeout = \"soon\"\n"},
		{"not toml", "this is = = not toml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorContains(t, err, "not found")
}

func TestValidate_MemoryDriverNeedsNoDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store = StoreConfig{Driver: DriverMemory}
	assert.NoError(t, cfg.Validate())
}
