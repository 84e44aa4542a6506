package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	contacthandler "coalesce/internal/contact/handler"
	contactmetrics "coalesce/internal/contact/metrics"
	"coalesce/internal/contact/service"
	"coalesce/internal/contact/store"
	"coalesce/internal/contact/store/memory"
	"coalesce/internal/contact/store/postgres"
	"coalesce/internal/platform/config"
	"coalesce/internal/platform/httpserver"
	"coalesce/internal/platform/logger"
	platformmetrics "coalesce/internal/platform/metrics"
	platformredis "coalesce/internal/platform/redis"
	httptransport "coalesce/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]httptransport.HealthChecker)

	var contactStore store.Store
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		pg := postgres.New(db)
		contactStore = pg
		checks["postgres"] = pg
	} else {
		log.Warn("DATABASE_URL not set, using in-memory contact store")
		contactStore = memory.NewInMemory()
	}

	locker := service.NewShardedLocker()
	rdb, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err.Error())
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		locker = service.NewRedisLocker(rdb.Client)
		checks["redis"] = rdb
	}

	engine, err := service.New(contactStore, locker, log, contactmetrics.New())
	if err != nil {
		log.Error("service wiring failed", "error", err.Error())
		os.Exit(1)
	}

	handler := contacthandler.New(engine, log, platformmetrics.New())
	router := httptransport.NewRouter(handler, checks)
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting coalesce", "addr", cfg.Addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
