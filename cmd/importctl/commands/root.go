package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/config"
	"catalog-import-service/internal/logger"
	"catalog-import-service/internal/service"
)

// flag names
const (
	flagEnv        = "env"
	flagDB         = "db"
	flagImporters  = "importers"
	flagImporter   = "importer"
	flagType       = "type"
	flagCategories = "category-ids"
	flagPriority   = "priority"
	flagLimit      = "limit"
	flagSelected   = "selected"
)

type app struct {
	envFile       string
	dbPath        string
	importersPath string

	cfg *config.Config
	log *log.Logger

	// overridden in tests
	newLauncher func(cfg automation.RodConfig, logger *log.Logger) automation.Launcher
	queue       service.JobQueue
}

func newApp() *app {
	return &app{
		newLauncher: func(cfg automation.RodConfig, logger *log.Logger) automation.Launcher {
			return automation.NewRodLauncher(cfg, logger)
		},
	}
}

// Execute runs importctl with ctx cancelled on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	return newRootCmd(newApp()).ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "importctl",
		Short: "importctl - manage supplier catalog imports",
		Long: `importctl seeds importers, submits and inspects import jobs, and runs a
single import in the foreground against a local SQLite file.

Commands read Postgres and Redis settings from the environment (and --env).
Pass --db to work on a SQLite file instead of Postgres.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			// stdout is for command output
			a.log = logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
			if a.importersPath == "" {
				a.importersPath = cfg.ImportersFile
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, flagEnv, ".env", "env file loaded before the environment")
	root.PersistentFlags().StringVar(&a.dbPath, flagDB, "", "SQLite file to use instead of Postgres")
	root.PersistentFlags().StringVar(&a.importersPath, flagImporters, "", "importer catalog YAML (env: IMPORTERS_FILE)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newSeedCmd(a))
	root.AddCommand(newSubmitCmd(a))
	root.AddCommand(newStatusCmd(a))
	root.AddCommand(newCancelCmd(a))
	root.AddCommand(newLogsCmd(a))
	root.AddCommand(newCategoriesCmd(a))
	root.AddCommand(newScheduleCmd(a))
	return root
}

// openQueue connects to the Redis priority queue workers consume.
func (a *app) openQueue(ctx context.Context) (service.JobQueue, func(), error) {
	if a.queue != nil {
		return a.queue, func() {}, nil
	}
	if err := a.cfg.RequireRedis(); err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return service.NewRedisPriorityQueue(rdb, a.cfg.Queue()), func() { _ = rdb.Close() }, nil
}

func (a *app) findImporter(name string) (config.ImporterSpec, error) {
	specs, err := config.LoadImporters(a.importersPath)
	if err != nil {
		return config.ImporterSpec{}, err
	}
	for _, s := range specs {
		if s.Name == normalizeName(name) {
			return s, nil
		}
	}
	return config.ImporterSpec{}, fmt.Errorf("importer %s is not in %s", name, a.importersPath)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("error formatting output: %w", err)
	}
	return nil
}

func parseJobID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", arg, err)
	}
	return id, nil
}
