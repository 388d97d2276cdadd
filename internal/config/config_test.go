package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultSyncSettings(), cfg.Sync)
	assert.Equal(t, domain.DefaultSchedulerConfig(), cfg.Scheduler)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.VisibilityTimeout)
	assert.Equal(t, "data", filepath.Base(cfg.DataDir))
	assert.Nil(t, cfg.Rates)
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeConfig(t, "config.toml", `
data_dir = "/var/lib/catalogsync"

[catalog]
base_url = "https://catalog.example.com/api"
client_id = "abc"
rate_limit = 2.5

[sync]
page_size = 200
batch_size = 40
page_delay = "5s"

[currency.rates]
eur = 1.0
usd = 1.08

[notify]
webhook_url = "https://hooks.example.com/sync"
`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/catalogsync", cfg.DataDir)
	assert.Equal(t, "https://catalog.example.com/api", cfg.Catalog.BaseURL)
	assert.Equal(t, "abc", cfg.Catalog.ClientID)
	assert.InDelta(t, 2.5, cfg.Catalog.RateLimit, 1e-9)
	assert.Equal(t, 200, cfg.Sync.PageSize)
	assert.Equal(t, 40, cfg.Sync.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Sync.PageDelay)
	assert.Equal(t, 5, cfg.Sync.MinBatchSize)
	assert.InDelta(t, 1.08, cfg.Rates["USD"], 1e-9)
	assert.InDelta(t, 1.0, cfg.Rates["EUR"], 1e-9)
	assert.Equal(t, "https://hooks.example.com/sync", cfg.WebhookURL)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", "sync:\n  max_pages: 7\nlog:\n  level: debug\n")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.MaxPages)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "config.toml", "[sync]\npage_size = 200\n")
	t.Setenv("CATALOGSYNC_SYNC_PAGE_SIZE", "300")
	t.Setenv("CATALOGSYNC_CATALOG_BASE_URL", "https://env.example.com")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Sync.PageSize)
	assert.Equal(t, "https://env.example.com", cfg.Catalog.BaseURL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_InvalidSettings(t *testing.T) {
	path := writeConfig(t, "config.toml", "[sync]\nbatch_size = 2\nmin_batch_size = 5\n")

	_, err := Load(New(), path)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, "config.toml", "[log]\nlevel = \"loud\"\n")

	_, err := Load(New(), path)
	assert.Error(t, err)
}
