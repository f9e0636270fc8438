// Command stockhold runs the inventory reservation engine: the hold
// manager's backing services, the expiry reaper and the rehydration job,
// plus an operational HTTP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/orderflow/stockhold/internal/config"
	"github.com/orderflow/stockhold/internal/ledger"
	"github.com/orderflow/stockhold/internal/opsapi"
	"github.com/orderflow/stockhold/internal/reaper"
	"github.com/orderflow/stockhold/internal/rehydrate"
	"github.com/orderflow/stockhold/internal/storage/postgres"
	"github.com/orderflow/stockhold/internal/system"
	"github.com/orderflow/stockhold/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stockhold: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithField("component", "stockhold")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect redis at %s: %w", cfg.Redis.Addr, err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := postgres.Migrate(db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	l := ledger.New(client)
	durable := postgres.New(db)
	oracle := postgres.NewOracle(db)

	sweeper := reaper.New(l, oracle, log.WithField("component", "reaper")).
		WithBatchSize(cfg.Reaper.BatchSize)
	lock := ledger.NewLock(client, "rehydration", cfg.RehydrationLockTTL())
	job := rehydrate.New(l, durable, lock, log.WithField("component", "rehydration"))

	manager := system.NewManager()
	services := []system.Service{
		reaper.NewPoller(sweeper, cfg.ReaperInterval(), log.WithField("component", "reaper-poller")),
		rehydrate.NewScheduler(job, cfg.Rehydration.Schedule, log.WithField("component", "rehydration-scheduler")),
		opsapi.New(cfg.Ops.Addr, sweeper, job, map[string]opsapi.Pinger{
			"redis":    l,
			"database": durable,
		}, log.WithField("component", "opsapi")),
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		return err
	}
	log.WithField("ops_addr", cfg.Ops.Addr).Info("stockhold engine running")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return manager.Stop(shutdownCtx)
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
