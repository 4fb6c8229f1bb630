package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluecarbon/registry/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInvokeAndQuery_PersistInSQLiteFile(t *testing.T) {
	// GIVEN: a fresh SQLite ledger file
	dsn := filepath.Join(t.TempDir(), "registry.db")
	flags := []string{"--driver", "sqlite", "--dsn", dsn, "--log-level", "error"}

	// WHEN: a credit is created and issued in separate processes' worth of commands
	_, err := execute(t, append([]string{"invoke", "CreateCredit", "CC-1", "P-1", "ngo-1", "50", "seagrass", "V-1", "MRV-1"}, flags...)...)
	require.NoError(t, err)
	_, err = execute(t, append([]string{"invoke", "IssueCredit", "CC-1"}, flags...)...)
	require.NoError(t, err)

	// THEN: a later query sees the committed state
	out, err := execute(t, append([]string{"query", "ReadCredit", "CC-1"}, flags...)...)
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "issued", rec["status"])
	assert.Equal(t, "seagrass", rec["type"])
}

func TestQuery_RejectsWriteFunction(t *testing.T) {
	_, err := execute(t, "query", "IssueCredit", "CC-1", "--driver", "memory")
	assert.Error(t, err)
}

func TestFunctionsCommand(t *testing.T) {
	out, err := execute(t, "functions")
	require.NoError(t, err)
	assert.Contains(t, out, "TransferCredit")
	assert.Contains(t, out, "submit")
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\ndriver = \"sqlite\"\ndsn = \"from-file.db\"\n"), 0o600))

	cmd := newRootCmd()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, cmd.PersistentFlags().Set("config", path))
	require.NoError(t, cmd.PersistentFlags().Set("driver", "memory"))
	require.NoError(t, serve.Flags().Set("addr", "127.0.0.1:0"))
	serve.InheritedFlags() // merges root persistent flags into serve.Flags()

	cfg, err := loadConfig(serve)
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "from-file.db", cfg.Store.DSN)
	assert.Equal(t, "127.0.0.1:0", cfg.Server.Addr)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := openStore(context.Background(), config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}
