package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/post-discovery/internal/trending"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, trending.DefaultWeights(), cfg.Ranking.Weights())
	assert.Equal(t, "localhost:6893", cfg.Server.Addr())
	assert.Equal(t, filepath.Join("./data", "discovery.db"), cfg.Store.DBPath())
}

func TestLoadLayers(t *testing.T) {
	chdir(t, t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  queryTimeout: 2s
ranking:
  commentWeight: 5
log:
  format: json
`), 0o644))
	require.NoError(t, os.WriteFile(".env", []byte("DISCOVERY_LOG_LEVEL=debug\nDISCOVERY_SERVER_PORT=9100\n"), 0o644))
	// godotenv writes straight into the process environment
	t.Cleanup(func() { os.Unsetenv("DISCOVERY_LOG_LEVEL") })

	t.Setenv("DISCOVERY_SERVER_PORT", "9200")
	t.Setenv("DISCOVERY_STORE_BACKEND", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port, "environment beats .env and yaml")
	assert.Equal(t, 2*time.Second, cfg.Server.QueryTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 5.0, cfg.Ranking.Weights().Comment)
	assert.Equal(t, 2.0, cfg.Ranking.Weights().Reaction)
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdir(t, t.TempDir())

	cases := map[string]string{
		"backend":   "store: {backend: cassandra}",
		"mongo uri": "store: {backend: mongo}",
		"decay":     "ranking: {decayPerDay: 1.5}",
		"page size": "search: {defaultPageSize: 50, maxPageSize: 20}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
