package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jervis-ai/jervis/internal/config"
)

func TestLoadAppliesDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 100, cfg.RateLimit.T1)
	require.Equal(t, 500, cfg.RateLimit.T2)
	require.Equal(t, "jervis", cfg.Mongo.Database)
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jervis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mongo:\n  database: custom\nrateLimit:\n  t1: 10\n  t2: 20\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "custom", cfg.Mongo.Database)
	require.Equal(t, 10, cfg.RateLimit.T1)
	require.Equal(t, 20, cfg.RateLimit.T2)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jervis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mongo:\n  database: from-file\n"), 0o600))

	t.Setenv("JERVIS_MONGO_DATABASE", "from-env")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Mongo.Database)
}
