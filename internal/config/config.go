// Package config reads process settings from the environment (optionally
// seeded from a .env file) and the importer catalog from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/phuslu/log"
	"github.com/shirou/gopsutil/v3/cpu"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/logger"
	"catalog-import-service/internal/service"
)

type Config struct {
	PostgresDSN string
	RedisAddr   string

	QueueKey         string        `validate:"required"`
	ProcessingKey    string        `validate:"required"`
	ProcessingMapKey string        `validate:"required"`
	LeaseKey         string        `validate:"required"`
	LeaseTTL         time.Duration `validate:"gte=10s"`
	ReapInterval     time.Duration `validate:"gte=1s"`

	Workers  int    `validate:"gte=1,lte=64"`
	HTTPAddr string `validate:"required"`

	LogLevel  string `validate:"oneof=trace debug info warn error"`
	LogFormat string `validate:"oneof=console json"`

	BrowserHeadless   bool
	BrowserBin        string
	BrowserNavTimeout time.Duration `validate:"gte=1s"`
	// WaitTimeout bounds login redirects and page switches inside a supplier.
	WaitTimeout time.Duration `validate:"gte=100ms"`

	ScreenshotDir string
	ScheduleFile  string
	ImportersFile string
}

// Load reads envFile when it exists, then the environment. Variables already
// set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	processingKey := envOr("REDIS_PROCESSING_KEY", "jobs:processing")
	cfg := &Config{
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		QueueKey:         envOr("REDIS_QUEUE_KEY", "jobs:queue"),
		ProcessingKey:    processingKey,
		ProcessingMapKey: envOr("REDIS_PROCESSING_MAP_KEY", processingKey+":map"),
		LeaseKey:         envOr("REDIS_LEASE_KEY", processingKey+":leases"),
		HTTPAddr:         envOr("HTTP_ADDR", ":8080"),
		LogLevel:         strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOr("LOG_FORMAT", "console")),
		BrowserBin:       os.Getenv("BROWSER_BIN"),
		ScreenshotDir:    os.Getenv("SCREENSHOT_DIR"),
		ScheduleFile:     envOr("SCHEDULE_FILE", "importers.yaml"),
		ImportersFile:    envOr("IMPORTERS_FILE", "importers.yaml"),
	}

	var err error
	if cfg.LeaseTTL, err = envDurationOr("LEASE_TTL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReapInterval, err = envDurationOr("REAP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.BrowserNavTimeout, err = envDurationOr("BROWSER_NAV_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.WaitTimeout, err = envDurationOr("BROWSER_WAIT_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.BrowserHeadless, err = envBoolOr("BROWSER_HEADLESS", true); err != nil {
		return nil, err
	}
	if cfg.Workers, err = WorkerCount(envOr("WORKERS", "auto")); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// RequirePostgres and RequireRedis are checked by the commands that need them.
func (c *Config) RequirePostgres() error {
	if c.PostgresDSN == "" {
		return errors.New("missing env: POSTGRES_DSN")
	}
	return nil
}

func (c *Config) RequireRedis() error {
	if c.RedisAddr == "" {
		return errors.New("missing env: REDIS_ADDR")
	}
	return nil
}

func (c *Config) Logger() *log.Logger {
	return logger.New(logger.Config{Level: c.LogLevel, Format: c.LogFormat})
}

func (c *Config) Queue() service.QueueConfig {
	low, normal, high := service.Lanes(c.QueueKey, c.ProcessingKey)
	return service.QueueConfig{
		ProcessingMapKey: c.ProcessingMapKey,
		LeaseKey:         c.LeaseKey,
		LeaseTTL:         c.LeaseTTL,
		Low:              low,
		Normal:           normal,
		High:             high,
	}
}

func (c *Config) Browser() automation.RodConfig {
	return automation.RodConfig{
		Headless:   c.BrowserHeadless,
		Bin:        c.BrowserBin,
		NavTimeout: c.BrowserNavTimeout,
	}
}

// WorkerCount parses WORKERS. "auto" sizes the pool from the logical CPU
// count: half of it, between 1 and 16, since every worker drives a browser.
func WorkerCount(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "auto") {
		cores, err := cpu.Counts(true)
		if err != nil || cores < 1 {
			return 2, nil
		}
		return min(max(cores/2, 1), 16), nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("WORKERS: want a positive number or auto, got %q", v)
	}
	return n, nil
}

// RedactDSN masks the password in a postgres URL for logging.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envDurationOr(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBoolOr(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
