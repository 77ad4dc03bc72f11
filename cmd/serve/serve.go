// Package serve wires every core component together and runs the worker
// pool until interrupted.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/scrapecore/internal/cache"
	"github.com/jonesrussell/scrapecore/internal/config"
	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/logging"
	"github.com/jonesrussell/scrapecore/internal/metrics"
	"github.com/jonesrussell/scrapecore/internal/queue"
	"github.com/jonesrussell/scrapecore/internal/scraper"
	"github.com/jonesrussell/scrapecore/internal/store"
	"github.com/jonesrussell/scrapecore/internal/worker"
)

// Command returns the serve command, which composes the store, cache,
// queue, worker pool, and scraper dispatch into a running process.
func Command(cfgFile *string) *cobra.Command {
	var useMemoryStore bool
	var demoURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job orchestration core",
		Long:  `serve starts the worker pool, submits an optional demo job, and runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log := logging.Must(logging.Config{
				Level:       cfg.Logger.Level,
				Development: cfg.Logger.Development,
				OutputPaths: cfg.Logger.OutputPaths,
			})
			defer log.Sync() //nolint:errcheck

			return run(cmd.Context(), cfg, log, useMemoryStore, demoURL)
		},
	}

	cmd.Flags().BoolVar(&useMemoryStore, "memory-store", true,
		"use the in-process memory store instead of connecting to PostgreSQL")
	cmd.Flags().StringVar(&demoURL, "demo-url", "",
		"submit one LIGHT_HTTP job for this URL on startup")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger, useMemoryStore bool, demoURL string) error {
	reg := metrics.New(nil)

	var st store.Store
	if useMemoryStore {
		st = store.NewMemoryStore()
		log.Info("using in-process memory store")
	} else {
		db, err := store.NewPostgresConnection(ctx, store.ConnConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
			SSLMode:  cfg.Postgres.SSLMode,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		st = store.NewPostgresStore(db)
		log.Info("connected to postgres store", logging.String("host", cfg.Postgres.Host))
	}

	remoteCfg := cache.RemoteConfig{
		Endpoints:           cfg.Redis.Endpoints,
		Password:            cfg.Redis.Password,
		DB:                  cfg.Redis.DB,
		HealthCheckInterval: cfg.Redis.HealthCheckInterval,
		DialTimeout:         cfg.Redis.DialTimeout,
	}
	remote, err := cache.NewRemoteClient(remoteCfg, log, reg)
	if err != nil {
		log.Warn("remote cache unavailable, continuing without it", logging.Error(err))
	} else {
		defer remote.Close() //nolint:errcheck
	}

	cacheManager := cache.NewManager(cache.ManagerConfig{
		KeyPrefix:             cfg.Cache.KeyPrefix,
		DefaultTTL:            cfg.Cache.DefaultTTL,
		LocalTTL:              cfg.Cache.LocalTTL,
		LocalMaxSizeBytes:     cfg.Cache.LocalMaxSizeBytes,
		CompressionThreshold:  cfg.Cache.CompressionThreshold,
		HitRatioRefreshPeriod: cfg.Cache.HitRatioRefreshPeriod,
	}, remote, log, reg)
	defer cacheManager.Close()

	q := queue.New(cfg.Queue.Capacity, reg)

	lightFetcher := scraper.NewLightFetcher(log)

	var headlessFetcher scraper.Fetcher
	headlessPool, err := scraper.NewHeadlessPool(cfg.Scraper.HeadlessPoolSize, log)
	if err != nil {
		log.Warn("headless browser pool unavailable, HEADLESS_BROWSER jobs will fail", logging.Error(err))
		headlessFetcher = unavailableFetcher{}
	} else {
		defer headlessPool.Close()
		headlessFetcher = scraper.NewHeadlessFetcher(headlessPool, log)
	}

	dispatcher := scraper.NewDispatcher(lightFetcher, headlessFetcher)
	cachedDispatcher := scraper.NewCachingFetcher(dispatcher, cacheManager, cfg.Cache.DefaultTTL, log)

	workerCfg := worker.Config{
		PoolSize:            cfg.Worker.PoolSize,
		DrainTimeout:        cfg.Worker.DrainTimeout,
		OrphanRecoveryAfter: cfg.Worker.OrphanRecoveryAfter,
	}
	bulkCoordinator := worker.NewBulkCoordinator()
	executor := worker.NewExecutor(st, cachedDispatcher, q, log, reg, bulkCoordinator)
	pool, err := worker.NewPool(workerCfg, q, executor, log, reg)
	if err != nil {
		return fmt.Errorf("build worker pool: %w", err)
	}

	if orphans, orphanErr := st.RequeueOrphans(ctx, cfg.Worker.OrphanRecoveryAfter); orphanErr != nil {
		log.Warn("failed to requeue orphaned jobs", logging.Error(orphanErr))
	} else if len(orphans) > 0 {
		log.Info("requeued orphaned jobs", logging.Int("count", len(orphans)))
		for _, job := range orphans {
			if enqueueErr := q.Enqueue(job); enqueueErr != nil {
				log.Warn("failed to re-enqueue orphaned job",
					logging.String("job_id", job.ID), logging.Error(enqueueErr))
			}
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if err := pool.Start(runCtx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	if demoURL != "" {
		if err := submitDemoJob(ctx, st, q, demoURL, reg); err != nil {
			log.Error("failed to submit demo job", logging.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", logging.String("signal", sig.String()))
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.DrainTimeout)
	defer shutdownCancel()

	if err := pool.Stop(shutdownCtx); err != nil {
		log.Error("worker pool did not drain cleanly", logging.Error(err))
	}

	renderStats(pool.Stats())
	return nil
}

func submitDemoJob(ctx context.Context, st store.Store, q *queue.Queue, url string, m *metrics.Metrics) error {
	job := &domain.Job{
		ID:             fmt.Sprintf("demo-%d", time.Now().UnixNano()),
		URL:            url,
		Method:         domain.MethodGet,
		ScraperVariant: domain.VariantLightHTTP,
		Status:         domain.StatusQueued,
		Priority:       0,
		Config:         domain.DefaultConfig(),
		MaxRetries:     domain.DefaultMaxRetries,
	}
	if err := st.Create(ctx, job); err != nil {
		return fmt.Errorf("create demo job: %w", err)
	}
	if err := q.Enqueue(job); err != nil {
		return err
	}
	if m != nil {
		m.JobsSubmittedTotal.WithLabelValues(string(job.ScraperVariant)).Inc()
	}
	return nil
}

func renderStats(stats worker.PoolStats) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Worker", "State", "Processed", "Succeeded", "Failed"})
	for _, w := range stats.Workers {
		t.AppendRow(table.Row{w.ID, w.State.String(), w.JobsProcessed, w.JobsSucceeded, w.JobsFailed})
	}
	t.Render()
}

// unavailableFetcher stands in for the HEADLESS_BROWSER variant when no
// browser instance could be started, returning an unsupported FetchError
// rather than leaving the variant unregistered.
type unavailableFetcher struct{}

func (unavailableFetcher) Fetch(_ context.Context, job *domain.Job) (*domain.JobResult, error) {
	return nil, domain.NewFetchError(domain.FetchErrorUnsupported, false,
		fmt.Errorf("headless browser pool is unavailable for job %s", job.ID))
}
