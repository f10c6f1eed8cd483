package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/royalty-engine/internal/config"
)

// useTestConfig points the package config at a fresh SQLite file for the
// duration of the test.
func useTestConfig(t *testing.T) *config.Config {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "cmd.db")},
		DualProof: config.DualProofConfig{WindowMinutes: 10, Threshold: 0.85},
	}
	t.Cleanup(func() { cfg = prev })
	return cfg
}

func TestInitStore_SQLite(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()

	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(ctx))
	assert.NoError(t, st.Ping(ctx))
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	c := useTestConfig(t)
	c.Store.DatabaseURL = ""

	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Close())

	assert.FileExists(t, filepath.Join(dir, "royalty.db"))
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	c := useTestConfig(t)
	c.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}
