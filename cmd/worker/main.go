// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"catalog-import-service/internal/automation"
	"catalog-import-service/internal/config"
	"catalog-import-service/internal/pipeline"
	"catalog-import-service/internal/repository/postgresql"
	"catalog-import-service/internal/service"
	"catalog-import-service/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}
	log := cfg.Logger()
	if err := cfg.RequirePostgres(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := cfg.RequireRedis(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("pg")
	}
	defer pool.Close()
	if err := postgresql.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("pg schema")
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis")
	}

	// DI
	jobs := postgresql.NewJobRepository(pool)
	importers := postgresql.NewImporterRepository(pool)
	catalog := postgresql.NewCatalogRepository(pool)
	queue := service.NewRedisPriorityQueue(rdb, cfg.Queue())

	// Reaper: jobs whose lease ran out (worker crashed or restarted) go back to their lane.
	go func() {
		ticker := time.NewTicker(cfg.ReapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := queue.RequeueExpired(ctx, 100)
				if err != nil {
					log.Error().Err(err).Msg("requeue")
					continue
				}
				if n > 0 {
					log.Info().Int64("count", n).Msg("requeued expired jobs")
				}
			}
		}
	}()

	launcher := automation.NewRodLauncher(cfg.Browser(), log)
	orchestrator := pipeline.NewOrchestrator(jobs, catalog, launcher, log)
	processor := worker.NewProcessor(jobs, importers, catalog, orchestrator, nil, worker.ProcessorConfig{
		ScreenshotDir: cfg.ScreenshotDir,
		WaitTimeout:   cfg.WaitTimeout,
	}, log)
	workers := worker.NewPool(queue, processor, cfg.Workers, cfg.LeaseTTL/3, log)

	log.Info().
		Int("workers", cfg.Workers).
		Str("redis_addr", cfg.RedisAddr).
		Str("queue_key", cfg.QueueKey).
		Str("processing_key", cfg.ProcessingKey).
		Dur("lease_ttl", cfg.LeaseTTL).
		Bool("headless", cfg.BrowserHeadless).
		Str("postgres_dsn", config.RedactDSN(cfg.PostgresDSN)).
		Msg("worker started")

	workers.Run(ctx)

	log.Info().Msg("worker stopped")
}
