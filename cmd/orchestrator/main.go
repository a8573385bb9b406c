// cmd/orchestrator/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"package-orchestrator/internal/audit"
	"package-orchestrator/internal/common/aws"
	"package-orchestrator/internal/common/config"
	"package-orchestrator/internal/common/database"
	commonhttp "package-orchestrator/internal/common/http"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/common/observability"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/notification"
	"package-orchestrator/internal/queue"
	"package-orchestrator/internal/registry"
	"package-orchestrator/internal/scheduler"
	"package-orchestrator/internal/store"
	"package-orchestrator/pkg/catalog"

	sc "package-orchestrator/internal/workers/reconciliation/stage-check"
	ps "package-orchestrator/internal/workers/scheduling/periodic-scan"
	cc "package-orchestrator/internal/workers/submission/completeness-check"
	sp "package-orchestrator/internal/workers/submission/submit-package"
	sr "package-orchestrator/internal/workers/submission/submit-referral"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	zapLog.Info("Starting package orchestrator...", zap.String("environment", cfg.App.Environment))

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.AutoMigrate {
		if err := database.Migrate(pg.DB, log); err != nil {
			zapLog.Fatal("migrations failed", zap.Error(err))
		}
	}

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")
	if policy, safe, err := rdb.EvictionPolicy(ctx); err != nil {
		zapLog.Warn("could not read redis eviction policy", zap.Error(err))
	} else if !safe {
		zapLog.Warn("redis may evict queued jobs, set maxmemory-policy to noeviction", zap.String("policy", policy))
	}

	// --- Audit trail ---
	recorder := audit.Nop()
	checks := map[string]Check{
		"postgres": pg.Ping,
		"redis":    rdb.Ping,
	}
	if cfg.Audit.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		created, err := es.EnsureAuditIndex(ctx, cfg.Audit.Index)
		if err != nil {
			zapLog.Fatal("audit index setup failed", zap.Error(err))
		}
		if created {
			zapLog.Info("audit index created", zap.String("index", cfg.Audit.Index))
		}
		recorder = audit.NewESRecorder(es.Client, cfg.Audit.Index, log)
		checks["elasticsearch"] = es.Ping
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Queue ---
	jobCatalog, err := catalog.Default()
	if err != nil {
		zapLog.Fatal("job catalog failed to load", zap.Error(err))
	}
	queueOpts := queue.Options{
		Prefix:          cfg.Queue.Prefix,
		Policies:        queue.WithWorkerOverrides(queue.PoliciesFromCatalog(jobCatalog), cfg.Workers),
		RetainCompleted: cfg.Queue.RetainCompleted,
		Retention:       config.GetDuration(cfg.Queue.RetentionPeriod),
		Logger:          log,
	}
	if cfg.Queue.ValidatePayload {
		validator, err := queue.NewCatalogValidator(jobCatalog)
		if err != nil {
			zapLog.Fatal("job catalog schemas failed to compile", zap.Error(err))
		}
		queueOpts.Validator = validator
	}
	q := queue.New(rdb.Client, queueOpts)
	if err := obs.RegisterQueueDepth(models.AllJobTypes, q.Counts); err != nil {
		zapLog.Warn("queue depth gauge not registered", zap.Error(err))
	}

	// --- Collaborators ---
	registryTimeout := config.GetDuration(cfg.Registry.Timeout)
	var registryHTTP registry.Doer = commonhttp.NewClient(registryTimeout)
	if cfg.Registry.ClientID != "" {
		registryHTTP = commonhttp.NewOAuthClient(ctx, registryTimeout, commonhttp.OAuthConfig{
			TokenURL:     cfg.Registry.TokenURL,
			ClientID:     cfg.Registry.ClientID,
			ClientSecret: cfg.Registry.ClientSecret,
			Scopes:       cfg.Registry.Scopes,
		})
	}
	registryClient := registry.NewClient(cfg.Registry.BaseURL, registryHTTP)

	var sesSvc notification.SESService
	var snsSvc notification.SNSService
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		awsCfg, err := aws.LoadConfig(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("aws config failed", zap.Error(err))
		}
		if cfg.Notifications.Email.Enabled {
			sesSvc = aws.NewSESClient(awsCfg)
		}
		if cfg.Notifications.SMS.Enabled {
			snsSvc = aws.NewSNSClient(awsCfg)
		}
	}
	notifier := notification.NewNotifier(notification.ConfigFrom(cfg.Notifications), pg.DB, sesSvc, snsSvc, log)

	packages := store.NewPackageStore(pg.DB)
	household := store.NewHouseholdStore(pg.DB)

	// --- Workers ---
	runner := queue.NewRunner(q, config.GetDuration(cfg.Queue.PollInterval), log, obs)

	if cfg.Workers[cc.TaskType].Enabled {
		handler, err := cc.NewHandler(cc.HandlerOptions{
			AppConfig: cfg,
			Packages:  packages,
			Household: household,
			Queue:     q,
			Audit:     recorder,
			Logger:    log,
		})
		if err != nil {
			zapLog.Fatal("failed to create completeness-check handler", zap.Error(err))
		}
		register(runner, models.JobCompletenessCheck, handler.Handle, handler.GetConfig().MaxJobsActive, handler.GetConfig().Timeout)
	}

	if cfg.Workers[sp.TaskType].Enabled {
		handler, err := sp.NewHandler(sp.HandlerOptions{
			AppConfig: cfg,
			Packages:  packages,
			Household: household,
			Registry:  registryClient,
			Notifier:  notifier,
			Audit:     recorder,
			Logger:    log,
		})
		if err != nil {
			zapLog.Fatal("failed to create submission handler", zap.Error(err))
		}
		q.OnExhausted(models.JobSubmission, handler.OnExhausted)
		register(runner, models.JobSubmission, handler.Handle, handler.GetConfig().MaxJobsActive, handler.GetConfig().Timeout)
	}

	if cfg.Workers[sr.TaskType].Enabled {
		handler, err := sr.NewHandler(sr.HandlerOptions{
			AppConfig: cfg,
			Packages:  packages,
			Household: household,
			Registry:  registryClient,
			Notifier:  notifier,
			Audit:     recorder,
			Logger:    log,
		})
		if err != nil {
			zapLog.Fatal("failed to create submit-referral handler", zap.Error(err))
		}
		q.OnExhausted(models.JobSubmitReferral, handler.OnExhausted)
		register(runner, models.JobSubmitReferral, handler.Handle, handler.GetConfig().MaxJobsActive, handler.GetConfig().Timeout)
	}

	if cfg.Workers[ps.TaskType].Enabled {
		handler, err := ps.NewHandler(ps.HandlerOptions{
			AppConfig: cfg,
			Store:     packages,
			Queue:     q,
			Logger:    log,
		})
		if err != nil {
			zapLog.Fatal("failed to create periodic-scan handler", zap.Error(err))
		}
		register(runner, models.JobPeriodicScan, handler.Handle, handler.GetConfig().MaxJobsActive, handler.GetConfig().Timeout)
	}

	if cfg.Workers[sc.TaskType].Enabled {
		handler, err := sc.NewHandler(sc.HandlerOptions{
			AppConfig: cfg,
			Store:     packages,
			Registry:  registryClient,
			Notifier:  notifier,
			Audit:     recorder,
			Logger:    log,
		})
		if err != nil {
			zapLog.Fatal("failed to create stage-check handler", zap.Error(err))
		}
		register(runner, models.JobStageCheck, handler.Handle, handler.GetConfig().MaxJobsActive, handler.GetConfig().Timeout)
	}

	sched := scheduler.New(q, cfg.Scheduler, log)
	server := newOpsServer(cfg.Server.Address, config.GetDuration(cfg.Server.ShutdownTimeout), sched, checks, log)

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	if cfg.Scheduler.Enabled {
		g.Go(func() error { return sched.Run(gctx) })
	} else {
		zapLog.Info("scheduler disabled, periodic jobs run only through triggers")
	}

	if err := g.Wait(); err != nil {
		zapLog.Error("orchestrator stopped with error", zap.Error(err))
		os.Exit(1)
	}
	zapLog.Info("Package orchestrator stopped")
}

func register(runner *queue.Runner, jobType models.JobType, handle queue.Handler, maxActive int, timeout time.Duration) {
	runner.Register(queue.Worker{
		Type:          jobType,
		Handler:       handle,
		MaxJobsActive: maxActive,
		Timeout:       timeout,
	})
}
