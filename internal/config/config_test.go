package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no stray .env is read.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 20, cfg.Credits.InitialBalance)
	assert.Equal(t, 60000, cfg.Engine.TokenWarningChars)
	assert.Equal(t, 1, cfg.Conflicts.DayWindow)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.RecentWindow)
	assert.Equal(t, 2*time.Second, cfg.Jobs.PollInterval)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadPrecedence(t *testing.T) {
	dir := inTempDir(t)
	file := filepath.Join(dir, "planner.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
addr: ":9000"
llm:
  model: from-file
  timeout: 30s
jobs:
  workers: 4
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PLANNER_LLM_API_KEY=from-dotenv\n"), 0o600))
	t.Setenv("PLANNER_LLM_MODEL", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("PLANNER_LLM_API_KEY") })

	cfg, err := Load(New(), file)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "from-env", cfg.LLM.Model, "environment beats the file")
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, "from-dotenv", cfg.LLM.APIKey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	inTempDir(t)
	tests := map[string]map[string]string{
		"provider":     {"PLANNER_LLM_PROVIDER": "carrier-pigeon"},
		"short secret": {"PLANNER_AUTH_JWT_SECRET": "short"},
		"oidc client":  {"PLANNER_AUTH_OIDC_ISSUER": "https://id.example.com"},
		"day window":   {"PLANNER_CONFLICTS_DAY_WINDOW": "-1"},
		"lock ttl":     {"PLANNER_REDIS_ADDR": "localhost:6379", "PLANNER_REDIS_LOCK_TTL": "60s", "PLANNER_LLM_TIMEOUT": "90s"},
		"stale jobs":   {"PLANNER_JOBS_TIMEOUT": "10m", "PLANNER_JOBS_STALE_AFTER": "5m"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load(New(), "")
			assert.Error(t, err)
		})
	}
}

func TestValidateTimeoutOrdering(t *testing.T) {
	inTempDir(t)
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LockTTL = cfg.LLM.Timeout
	assert.ErrorContains(t, cfg.Validate(), "redis.lock_ttl")
	cfg.Redis.LockTTL = cfg.LLM.Timeout + time.Second
	assert.NoError(t, cfg.Validate())

	cfg.Jobs.StaleAfter = cfg.Jobs.Timeout
	assert.ErrorContains(t, cfg.Validate(), "jobs.stale_after")

	cfg.Redis.Addr = ""
	cfg.Redis.LockTTL = time.Second
	cfg.Jobs.StaleAfter = 2 * cfg.Jobs.Timeout
	assert.NoError(t, cfg.Validate(), "the lock TTL only matters with Redis")
}

func TestLoadMissingFile(t *testing.T) {
	inTempDir(t)
	_, err := Load(New(), "does-not-exist.yaml")
	assert.Error(t, err)
}
