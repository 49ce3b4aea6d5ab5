package entity

import "time"

const (
	DefaultInterItemDelayMs = 1000
	DefaultBatchSize        = 50
)

// Credentials holds the login form values, keyed rut / username / password.
type Credentials map[string]string

type Importer struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	BaseURL     string           `json:"base_url"`
	Active      bool             `json:"active"`
	Credentials Credentials      `json:"-"`
	Settings    ImporterSettings `json:"settings"`
	LastSyncAt  *time.Time       `json:"last_sync_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type ImporterSettings struct {
	// nil means unlimited
	PerCategoryItemLimit *int `json:"per_category_item_limit"`
	InterItemDelayMs     int  `json:"inter_item_delay_ms"`
	BatchSize            int  `json:"batch_size"`
}

// ImporterRunConfig is the snapshot one job runs with. It is built once
// before the first phase and never changes afterwards.
type ImporterRunConfig struct {
	ImporterID           int64
	ImporterName         string
	PerCategoryItemLimit *int
	InterItemDelayMs     int
	BatchSize            int
	SelectedCategoryIDs  []int64
	Credentials          Credentials
	ScreenshotDir        string
}

// NewRunConfig snapshots importer settings for one job.
func NewRunConfig(imp Importer, categoryIDs []int64, screenshotDir string) ImporterRunConfig {
	cfg := ImporterRunConfig{
		ImporterID:       imp.ID,
		ImporterName:     imp.Name,
		InterItemDelayMs: imp.Settings.InterItemDelayMs,
		BatchSize:        imp.Settings.BatchSize,
		ScreenshotDir:    screenshotDir,
	}
	if imp.Settings.PerCategoryItemLimit != nil {
		limit := *imp.Settings.PerCategoryItemLimit
		cfg.PerCategoryItemLimit = &limit
	}
	if cfg.InterItemDelayMs < 0 {
		cfg.InterItemDelayMs = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	cfg.SelectedCategoryIDs = append([]int64(nil), categoryIDs...)
	cfg.Credentials = make(Credentials, len(imp.Credentials))
	for k, v := range imp.Credentials {
		cfg.Credentials[k] = v
	}
	return cfg
}
