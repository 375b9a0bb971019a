package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFillsDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flashts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device:\n  size_bytes: 2097152\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 2097152, cfg.Device.SizeBytes)
	require.EqualValues(t, 32768, cfg.Device.MetaReservedBytes)
	require.Equal(t, 256, cfg.ReadBatchRows)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/flashts.yaml")
	require.Error(t, err)
}
