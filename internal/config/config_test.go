package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-import-service/internal/config"
	"catalog-import-service/internal/entity"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WORKERS", "3")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "jobs:queue", cfg.QueueKey)
	assert.Equal(t, "jobs:processing:map", cfg.ProcessingMapKey)
	assert.Equal(t, "jobs:processing:leases", cfg.LeaseKey)
	assert.Equal(t, 2*time.Minute, cfg.LeaseTTL)
	assert.True(t, cfg.BrowserHeadless)
	assert.Error(t, cfg.RequirePostgres())
	assert.Error(t, cfg.RequireRedis())

	q := cfg.Queue()
	assert.Equal(t, "jobs:queue:high", q.High.QueueKey)
	assert.Equal(t, "jobs:processing:low", q.Low.ProcessingKey)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte(
		"POSTGRES_DSN=postgres://u:p@db:5432/catalog\nREDIS_ADDR=redis:6379\nLEASE_TTL=90s\nBROWSER_HEADLESS=false\nWORKERS=2\n"), 0o600))
	// variables already set win over the file
	t.Setenv("WORKERS", "5")
	for _, k := range []string{"POSTGRES_DSN", "REDIS_ADDR", "LEASE_TTL", "BROWSER_HEADLESS"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := config.Load(env)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.LeaseTTL)
	assert.False(t, cfg.BrowserHeadless)
	assert.NoError(t, cfg.RequirePostgres())
	assert.NoError(t, cfg.RequireRedis())
	assert.Equal(t, "postgres://u:****@db:5432/catalog", config.RedactDSN(cfg.PostgresDSN))
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("WORKERS", "2")

	t.Setenv("LEASE_TTL", "soon")
	_, err := config.Load("")
	assert.Error(t, err)

	t.Setenv("LEASE_TTL", "1s")
	_, err = config.Load("")
	assert.Error(t, err, "lease shorter than the validator minimum")

	t.Setenv("LEASE_TTL", "")
	t.Setenv("LOG_FORMAT", "xml")
	_, err = config.Load("")
	assert.Error(t, err)
}

func TestWorkerCount(t *testing.T) {
	n, err := config.WorkerCount("auto")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 16)

	n, err = config.WorkerCount("7")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = config.WorkerCount("0")
	assert.Error(t, err)
	_, err = config.WorkerCount("many")
	assert.Error(t, err)
}

const importersYAML = `
importers:
  - name: noriega
    display_name: Noriega Vanzulli
    active: true
    credentials:
      rut: ${TEST_NORIEGA_RUT}
      username: compras
      password: ${TEST_NORIEGA_PASSWORD}
    settings:
      per_category_item_limit: 50
      inter_item_delay_ms: 0
    schedule:
      categories: "0 3 * * 1"
      products: "@daily"
      priority: 2
  - name: EMASA
    base_url: https://ecommerce.emasa.cl/b2b/
`

func TestParseImporters(t *testing.T) {
	t.Setenv("TEST_NORIEGA_RUT", "76.123.456-7")
	t.Setenv("TEST_NORIEGA_PASSWORD", "s3cret")

	specs, err := config.ParseImporters(strings.NewReader(importersYAML))
	require.NoError(t, err)
	require.Len(t, specs, 2)

	noriega := specs[0].Importer()
	assert.Equal(t, "NORIEGA", noriega.Name)
	assert.Equal(t, "76.123.456-7", noriega.Credentials["rut"])
	assert.Equal(t, "s3cret", noriega.Credentials["password"])
	require.NotNil(t, noriega.Settings.PerCategoryItemLimit)
	assert.Equal(t, 50, *noriega.Settings.PerCategoryItemLimit)
	assert.Equal(t, 0, noriega.Settings.InterItemDelayMs)
	assert.Equal(t, entity.DefaultBatchSize, noriega.Settings.BatchSize)

	schedules := specs[0].Schedules()
	require.Len(t, schedules, 2)
	assert.Equal(t, entity.JobTypeCategories, schedules[0].Type)
	assert.Equal(t, "@daily", schedules[1].Spec)
	assert.Equal(t, 2, schedules[1].Priority)

	emasa := specs[1].Importer()
	assert.False(t, emasa.Active)
	assert.Equal(t, "EMASA", emasa.DisplayName)
	assert.Nil(t, emasa.Settings.PerCategoryItemLimit)
	assert.Equal(t, entity.DefaultInterItemDelayMs, emasa.Settings.InterItemDelayMs)
	assert.Empty(t, specs[1].Schedules())
}

func TestParseImporters_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": "importers:\n  - name: NORIEGA\n    colour: red\n",
		"missing name":  "importers:\n  - display_name: nobody\n",
		"duplicate":     "importers:\n  - name: NORIEGA\n  - name: noriega\n",
		"bad priority":  "importers:\n  - name: NORIEGA\n    schedule:\n      priority: 5\n",
		"bad url":       "importers:\n  - name: NORIEGA\n    base_url: not a url\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.ParseImporters(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadImporters_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "importers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("importers:\n  - name: NORIEGA\n    active: true\n"), 0o600))

	specs, err := config.LoadImporters(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	_, err = config.LoadImporters(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
