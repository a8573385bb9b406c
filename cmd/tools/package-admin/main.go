// cmd/tools/package-admin/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"package-orchestrator/internal/audit"
	"package-orchestrator/internal/common/config"
	"package-orchestrator/internal/common/database"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/queue"
	"package-orchestrator/internal/scheduler"
	"package-orchestrator/internal/store"
	"package-orchestrator/pkg/catalog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}, connect).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect opens the same stores and queue the orchestrator uses.
func connect(ctx context.Context, a *app) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewStructured(cfg.Logging.Level, "console")

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	if err := pg.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		return err
	}
	if err := rdb.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	jobCatalog, err := catalog.Default()
	if err != nil {
		return err
	}
	validator, err := queue.NewCatalogValidator(jobCatalog)
	if err != nil {
		return err
	}
	q := queue.New(rdb.Client, queue.Options{
		Prefix:    cfg.Queue.Prefix,
		Policies:  queue.WithWorkerOverrides(queue.PoliciesFromCatalog(jobCatalog), cfg.Workers),
		Validator: validator,
		Logger:    log,
	})

	packages := store.NewPackageStore(pg.DB)
	a.packages = packages
	household := store.NewHouseholdStore(pg.DB)
	a.household = household
	a.screening = household
	a.queue = q
	a.triggers = scheduler.New(q, cfg.Scheduler, log)
	a.screeningAge = cfg.Completeness.ScreeningAge
	a.migrate = func(context.Context) error { return database.Migrate(pg.DB, log) }
	a.close = func() {
		_ = rdb.Close()
		_ = pg.Close()
	}

	if cfg.Audit.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		a.history = audit.NewESRecorder(es.Client, cfg.Audit.Index, log)
	}
	return nil
}
