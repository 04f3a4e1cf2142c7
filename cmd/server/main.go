package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"pulse/internal/analytics"
	"pulse/internal/analytics/cache"
	analyticshandler "pulse/internal/analytics/handler"
	eventstore "pulse/internal/event/store"
	memorystore "pulse/internal/event/store/memory"
	pgstore "pulse/internal/event/store/postgres"
	"pulse/internal/ingest"
	ingesthandler "pulse/internal/ingest/handler"
	"pulse/internal/platform/config"
	"pulse/internal/platform/httpserver"
	"pulse/internal/platform/logger"
	"pulse/internal/platform/metrics"
	"pulse/internal/platform/postgres"
	platformredis "pulse/internal/platform/redis"
	"pulse/internal/queue"
	memoryqueue "pulse/internal/queue/memory"
	redisqueue "pulse/internal/queue/redis"
	httptransport "pulse/internal/transport/http"
	"pulse/internal/worker"
)

// main wires dependencies explicitly: the gateway and worker each take an
// injected queue handle, the query engine an injected store and cache. With
// no Postgres or Redis configured the in-memory implementations are used,
// which keeps local development a single-binary affair.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	checks := map[string]httptransport.HealthCheck{}

	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		log.Error("postgres connection failed", "error", err.Error())
		os.Exit(1)
	}
	var st eventstore.Store
	if db != nil {
		pg := pgstore.New(db)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Error("schema bootstrap failed", "error", err.Error())
			os.Exit(1)
		}
		st = pg
		checks["postgres"] = db.PingContext
		defer db.Close()
		log.Info("using postgres event store")
	} else {
		st = memorystore.New()
		log.Warn("no postgres configured, using in-memory event store")
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err.Error())
		os.Exit(1)
	}
	var (
		q queue.Queue
		c cache.Cache
	)
	if redisClient != nil {
		q = redisqueue.New(redisClient.Client)
		c = cache.NewRedis(redisClient.Client)
		checks["redis"] = redisClient.Health
		defer redisClient.Close()
		log.Info("using redis queue and result cache")
	} else {
		q = memoryqueue.New()
		c = cache.NewMemory()
		log.Warn("no redis configured, using in-memory queue and cache")
	}

	ingestSvc, err := ingest.NewService(q, cfg.Ingest, log, ingest.WithMetrics(m))
	if err != nil {
		log.Error("ingest service init failed", "error", err.Error())
		os.Exit(1)
	}
	analyticsSvc, err := analytics.NewService(st, c, cfg.Cache.TTL, log, analytics.WithMetrics(m))
	if err != nil {
		log.Error("analytics service init failed", "error", err.Error())
		os.Exit(1)
	}

	router := httptransport.NewRouter(cfg.Server, log, checks,
		ingesthandler.New(ingestSvc, log),
		analyticshandler.New(analyticsSvc, log),
	)
	srv := httpserver.New(cfg.Server.Addr, router)

	w := worker.New(q, st, cfg.Worker.ChunkSize, log, worker.WithMetrics(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting pulse", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := w.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown with error", "error", err.Error())
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
