package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-import-service/internal/entity"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Filtros de Aceite":     "filtros-de-aceite",
		"  175/70 R13  ":        "175-70-r13",
		"BOSCH":                 "bosch",
		"Amortiguador--Trasero": "amortiguador-trasero",
		"ÑANDÚ":                 "and",
		"***":                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, entity.Slugify(in), in)
	}
}

func TestCategory_EnsureSlug(t *testing.T) {
	c := entity.Category{Name: "Correas Distribución", ExternalID: "X1"}
	c.EnsureSlug()
	assert.Equal(t, "correas-distribuci-n", c.Slug)

	c = entity.Category{Name: "***", ExternalID: "fam-22"}
	c.EnsureSlug()
	assert.Equal(t, "fam-22", c.Slug)

	c = entity.Category{Name: "***", ExternalID: "%%"}
	c.EnsureSlug()
	assert.NotEmpty(t, c.Slug)

	c = entity.Category{Name: "Other", Slug: "kept"}
	c.EnsureSlug()
	assert.Equal(t, "kept", c.Slug)
}

func TestJobStatus_Transitions(t *testing.T) {
	assert.True(t, entity.StatusPending.CanTransitionTo(entity.StatusRunning))
	assert.True(t, entity.StatusPending.CanTransitionTo(entity.StatusCancelled))
	assert.False(t, entity.StatusPending.CanTransitionTo(entity.StatusCompleted))

	for _, s := range []entity.JobStatus{entity.StatusCompleted, entity.StatusFailed, entity.StatusCancelled} {
		assert.True(t, entity.StatusRunning.CanTransitionTo(s))
		assert.True(t, s.Terminal())
		for _, next := range []entity.JobStatus{entity.StatusPending, entity.StatusRunning, entity.StatusCompleted} {
			assert.False(t, s.CanTransitionTo(next), "%s -> %s", s, next)
		}
	}
	assert.False(t, entity.StatusRunning.CanTransitionTo(entity.StatusPending))
}

func TestMergeExtraData_KeepsExistingKeys(t *testing.T) {
	base := map[string]any{"oem": []string{"X"}, "origin": "JP"}
	merged := entity.MergeExtraData(base, map[string]any{
		"applications": []any{map[string]any{"car_brand": "TOYOTA"}},
		"origin":       "KR",
	})

	require.Len(t, merged, 3)
	assert.Equal(t, []string{"X"}, merged["oem"])
	assert.Equal(t, "KR", merged["origin"])
	assert.Contains(t, merged, "applications")
	assert.Equal(t, "JP", base["origin"], "base must not be mutated")
}

func TestNewRunConfig_SnapshotsSettings(t *testing.T) {
	limit := 50
	imp := entity.Importer{
		ID:          7,
		Name:        "NORIEGA",
		Credentials: entity.Credentials{"rut": "1", "username": "u", "password": "p"},
		Settings:    entity.ImporterSettings{PerCategoryItemLimit: &limit, InterItemDelayMs: -5},
	}
	ids := []int64{1, 2}

	cfg := entity.NewRunConfig(imp, ids, "/tmp/shots")
	limit = 10
	ids[0] = 99
	imp.Credentials["password"] = "changed"

	require.NotNil(t, cfg.PerCategoryItemLimit)
	assert.Equal(t, 50, *cfg.PerCategoryItemLimit)
	assert.Equal(t, 0, cfg.InterItemDelayMs)
	assert.Equal(t, entity.DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, []int64{1, 2}, cfg.SelectedCategoryIDs)
	assert.Equal(t, "p", cfg.Credentials["password"])
	assert.Equal(t, "/tmp/shots", cfg.ScreenshotDir)
}
