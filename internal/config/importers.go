package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/service"
)

// ImporterSpec is one entry of the importer catalog file:
//
//	importers:
//	  - name: NORIEGA
//	    display_name: Noriega Vanzulli
//	    active: true
//	    credentials:
//	      rut: ${NORIEGA_RUT}
//	      username: ${NORIEGA_USERNAME}
//	      password: ${NORIEGA_PASSWORD}
//	    settings:
//	      per_category_item_limit: 50
//	      inter_item_delay_ms: 1000
//	    schedule:
//	      categories: "0 3 * * 1"
//	      products: "0 4 * * *"
type ImporterSpec struct {
	Name        string            `yaml:"name" validate:"required,alphanum"`
	DisplayName string            `yaml:"display_name"`
	BaseURL     string            `yaml:"base_url" validate:"omitempty,url"`
	Active      bool              `yaml:"active"`
	Credentials map[string]string `yaml:"credentials"`
	Settings    SettingsSpec      `yaml:"settings"`
	Schedule    ScheduleSpec      `yaml:"schedule"`
}

type SettingsSpec struct {
	// omitted means unlimited
	PerCategoryItemLimit *int `yaml:"per_category_item_limit" validate:"omitempty,gte=0"`
	InterItemDelayMs     *int `yaml:"inter_item_delay_ms" validate:"omitempty,gte=0"`
	BatchSize            int  `yaml:"batch_size" validate:"gte=0,lte=1000"`
}

// ScheduleSpec holds cron expressions; empty means not scheduled.
type ScheduleSpec struct {
	Categories string `yaml:"categories"`
	Products   string `yaml:"products"`
	Priority   int    `yaml:"priority" validate:"gte=0,lte=2"`
}

type importerFile struct {
	Importers []ImporterSpec `yaml:"importers" validate:"dive"`
}

func LoadImporters(path string) ([]ImporterSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	specs, err := ParseImporters(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

// ParseImporters decodes and validates the catalog. ${VAR} references in
// credentials are expanded from the environment.
func ParseImporters(r io.Reader) ([]ImporterSpec, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var file importerFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode importers: %w", err)
	}

	seen := map[string]bool{}
	for i := range file.Importers {
		spec := &file.Importers[i]
		spec.Name = strings.ToUpper(strings.TrimSpace(spec.Name))
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate importer %q", spec.Name)
		}
		seen[spec.Name] = true
		for k, v := range spec.Credentials {
			spec.Credentials[k] = os.ExpandEnv(v)
		}
	}

	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid importers: %w", err)
	}
	return file.Importers, nil
}

func (s ImporterSpec) Importer() entity.Importer {
	imp := entity.Importer{
		Name:        s.Name,
		DisplayName: s.DisplayName,
		BaseURL:     s.BaseURL,
		Active:      s.Active,
		Credentials: entity.Credentials(s.Credentials),
		Settings: entity.ImporterSettings{
			PerCategoryItemLimit: s.Settings.PerCategoryItemLimit,
			InterItemDelayMs:     entity.DefaultInterItemDelayMs,
			BatchSize:            s.Settings.BatchSize,
		},
	}
	if imp.DisplayName == "" {
		imp.DisplayName = s.Name
	}
	if s.Settings.InterItemDelayMs != nil {
		imp.Settings.InterItemDelayMs = *s.Settings.InterItemDelayMs
	}
	if imp.Settings.BatchSize == 0 {
		imp.Settings.BatchSize = entity.DefaultBatchSize
	}
	return imp
}

func (s ImporterSpec) Schedules() []service.Schedule {
	var out []service.Schedule
	if s.Schedule.Categories != "" {
		out = append(out, service.Schedule{Importer: s.Name, Type: entity.JobTypeCategories, Spec: s.Schedule.Categories, Priority: s.Schedule.Priority})
	}
	if s.Schedule.Products != "" {
		out = append(out, service.Schedule{Importer: s.Name, Type: entity.JobTypeProducts, Spec: s.Schedule.Products, Priority: s.Schedule.Priority})
	}
	return out
}
