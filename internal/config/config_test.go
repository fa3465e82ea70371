package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/loom/internal/config"
)

func TestLoadDefaultsWithKeyFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "loom", cfg.Graph.Database)
	require.Equal(t, "test-key", cfg.Generation.APIKey)
	require.Equal(t, 25, cfg.Workflow.LogWindow)
	require.Equal(t, 2*time.Minute, cfg.Generation.Timeout)
}

func TestLoadMissingAPIKeyFails(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := config.Load("")
	require.Error(t, err)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("MONGO_URI", "mongodb://db.internal:27017")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
workflow:
  max_concurrent_stories: 2
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, 2, cfg.Workflow.MaxConcurrentStories)
	require.Equal(t, "mongodb://db.internal:27017", cfg.Graph.URI,
		"environment overrides the file")
	require.Equal(t, "gemini-2.0-flash", cfg.Generation.Model, "unset fields keep defaults")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
generation:
  requests_per_minute: 0
`), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
}
