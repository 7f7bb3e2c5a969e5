package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/josiahcarlson/yogatable/internal/config"
	"github.com/josiahcarlson/yogatable/internal/indexrow"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 100, cfg.MaxIndexRowCount)
	require.Equal(t, 512, cfg.MaxIndexRowLength)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_index_row_count: 201\ntoo_many_rows: discard\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 201, cfg.MaxIndexRowCount)
	require.Equal(t, "discard", cfg.TooManyRows)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_index_row_count: 201\n"), 0o644))

	t.Setenv("YOGATABLE_MAX_INDEX_ROW_COUNT", "55")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 55, cfg.MaxIndexRowCount)
}

func TestIndexRowPolicyTranslation(t *testing.T) {
	cfg := config.Defaults()
	cfg.TooManyRows = "discard"
	cfg.RowTooLong = "truncate"
	policy := cfg.IndexRowPolicy()
	require.Equal(t, indexrow.TooManyRowsDiscard, policy.TooManyRows)
	require.Equal(t, indexrow.RowTooLongTruncate, policy.RowTooLong)
}
