// Command engine is the process entrypoint: it wires the Core
// (scheduler, queue watcher, conditional evaluator, status resolver,
// event dispatcher) to its concrete adapters (Postgres via gorm, Redis,
// an embedded bbolt queue) and runs the cron sweep plus the inbound
// provider-webhook HTTP listener. Grounded on the teacher's cli/runner.go
// (which wires scheduler+database+logger the same way) and
// btouchard-ackify-ce's cmd/migrate (the --migrate code path below).
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/sequencehq/engine/internal/conditional"
	"github.com/sequencehq/engine/internal/config"
	"github.com/sequencehq/engine/internal/dispatcher"
	"github.com/sequencehq/engine/internal/distlock"
	"github.com/sequencehq/engine/internal/journeyguard"
	"github.com/sequencehq/engine/internal/logging"
	"github.com/sequencehq/engine/internal/metrics"
	"github.com/sequencehq/engine/internal/notify"
	"github.com/sequencehq/engine/internal/queue"
	"github.com/sequencehq/engine/internal/queuewatcher"
	"github.com/sequencehq/engine/internal/ratelimit"
	"github.com/sequencehq/engine/internal/resilience"
	"github.com/sequencehq/engine/internal/scheduler"
	"github.com/sequencehq/engine/internal/statusresolver"
	"github.com/sequencehq/engine/internal/store"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "engine:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogFormat == "json"})

	if cfg.Migrate {
		if err := runMigrations(cfg); err != nil {
			log.WithError(err).Fatal("migration failed")
		}
		log.Info("migrations applied")
		return
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("engine exited with error")
	}
}

func runMigrations(cfg *config.AppConfig) error {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return fmt.Errorf("open dsn: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// instanceID identifies this process to the distributed lock so a
// crashed holder's lock can be told apart from a live one (spec.md §5).
func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "engine"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func run(cfg *config.AppConfig, log *logrus.Logger) error {
	db, err := store.Open(cfg.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	bq, err := queue.Open(cfg.BoltPath)
	if err != nil {
		return fmt.Errorf("open durable queue: %w", err)
	}
	defer bq.Close()
	queueAdapter := queue.NewSchedulerAdapter(bq)

	breakers := resilience.NewRegistry()
	locker := distlock.New(rdb, breakers.Get("redis-lock"))
	guard := journeyguard.New(locker, db)
	limiter := ratelimit.NewWindowLimiter(rdb, db, cfg.RateLimitWindowMinutes, cfg.RateLimitMaxPerWindow, breakers.Get("redis-ratelimit"))

	sched := scheduler.New(db, queueAdapter, guard, limiter, nil, instanceID())
	watcher := queuewatcher.New(db, queueAdapter, nil)
	evaluator := conditional.New(db, queueAdapter, limiter, guard, nil, instanceID())
	resolver := statusresolver.New(db, nil)
	notifier := notify.NewClient(db, cfg.WebhookURL, log)

	disp := dispatcher.New(db, sched, resolver, evaluator, watcher, notifier, nil, log)
	httpHandler := dispatcher.NewHTTPHandler(disp, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New()
	sweep := scheduler.NewSweep(sched, db, db, log)
	if err := sweep.Start(c); err != nil {
		return fmt.Errorf("start sweep: %w", err)
	}
	defer c.Stop()

	webhookServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      httpHandler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("webhook listener starting")
		if err := webhookServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("webhook listener stopped")
		}
	}()

	go func() {
		if err := metrics.Get().Serve(ctx, cfg.MetricsPort); err != nil {
			log.WithError(err).Error("metrics listener stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return webhookServer.Shutdown(shutdownCtx)
}
