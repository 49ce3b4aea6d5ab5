package entity

import (
	"regexp"
	"strings"
	"time"
)

type Category struct {
	ID           int64     `json:"id"`
	ImporterID   int64     `json:"importer_id"`
	ExternalID   string    `json:"external_id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	URL          string    `json:"url"`
	Kind         string    `json:"kind,omitempty"`
	ProductCount int       `json:"product_count"`
	Selected     bool      `json:"selected"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Product struct {
	ID            int64          `json:"id"`
	ImporterID    int64          `json:"importer_id"`
	CategoryID    *int64         `json:"category_id,omitempty"`
	SKU           string         `json:"sku"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Brand         string         `json:"brand,omitempty"`
	Price         float64        `json:"price"`
	Stock         int            `json:"stock"`
	Images        []string       `json:"images"`
	URL           string         `json:"url,omitempty"`
	ExtraData     map[string]any `json:"extra_data"`
	LastScrapedAt *time.Time     `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Application is one vehicle-compatibility row kept under extra_data["applications"].
type Application struct {
	CarBrand      string  `json:"car_brand"`
	CarModel      string  `json:"car_model"`
	SecondaryName *string `json:"secondary_name"`
	YearStart     *int    `json:"year_start"`
	YearEnd       *int    `json:"year_end"`
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and collapses every non [a-z0-9] run into one hyphen.
func Slugify(name string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// EnsureSlug fills Slug from Name when it is empty. A name without any
// slug-able character falls back to the external id.
func (c *Category) EnsureSlug() {
	if c.Slug != "" {
		return
	}
	c.Slug = Slugify(c.Name)
	if c.Slug == "" {
		c.Slug = Slugify(c.ExternalID)
	}
	if c.Slug == "" {
		c.Slug = "category"
	}
}

// MergeExtraData is a shallow union: keys in update win, keys only in base survive.
func MergeExtraData(base, update map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}
