// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"catalog-import-service/internal/config"
	"catalog-import-service/internal/repository/postgresql"
	"catalog-import-service/internal/service"
	httptransport "catalog-import-service/internal/transport/http"
)

// @title						Catalog Import Service API
// @version					1.0
// @description				Submits and tracks supplier catalog import jobs.
// @BasePath					/
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

	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("pg")
	}
	defer pool.Close()
	if err := postgresql.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("pg schema")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis")
	}

	catalog := postgresql.NewCatalogRepository(pool)
	jobSvc := service.NewJobService(
		postgresql.NewJobRepository(pool),
		postgresql.NewImporterRepository(pool),
		catalog,
		service.NewRedisPriorityQueue(rdb, cfg.Queue()),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(httptransport.NewHandler(jobSvc), log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("postgres_dsn", config.RedactDSN(cfg.PostgresDSN)).
		Msg("api started")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http")
	}
	<-idle
	log.Info().Msg("api stopped")
}
