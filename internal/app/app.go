// Package app builds and holds the long-lived pipeline services: the
// repositories, the link checkers, the snapshot archive, the notification
// publisher, and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/events-linkhealth/internal/api"
	"github.com/JakeFAU/events-linkhealth/internal/clock/system"
	"github.com/JakeFAU/events-linkhealth/internal/config"
	"github.com/JakeFAU/events-linkhealth/internal/events"
	"github.com/JakeFAU/events-linkhealth/internal/id/uuid"
	"github.com/JakeFAU/events-linkhealth/internal/linkhealth"
	"github.com/JakeFAU/events-linkhealth/internal/normalize"
	"github.com/JakeFAU/events-linkhealth/internal/pipeline"
	"github.com/JakeFAU/events-linkhealth/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/events-linkhealth/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/events-linkhealth/internal/publisher/pubsub"
	"github.com/JakeFAU/events-linkhealth/internal/staging"
	gcsstorage "github.com/JakeFAU/events-linkhealth/internal/storage/gcs"
	localstorage "github.com/JakeFAU/events-linkhealth/internal/storage/local"
	memorystorage "github.com/JakeFAU/events-linkhealth/internal/storage/memory"
	pgstore "github.com/JakeFAU/events-linkhealth/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	staging    events.StagingRepo
	events     events.EventRepo
	snapshots  events.SnapshotStore
	publisher  events.Publisher
	stager     *staging.Writer
	processor  *pipeline.Processor
	checker    *linkhealth.Checker
	healthPass *pipeline.HealthPass
	apiServer  *api.Server

	pool     *pgxpool.Pool
	ready    api.Pinger
	gcs      *gcsstorage.BlobStore
	pubsub   *gcppublisher.Publisher
	headless *linkhealth.HeadlessFetcher
}

// Build creates the application's dependencies. Close must be called to
// release them.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_backend", cfg.Database.Backend),
		zap.String("snapshot_backend", cfg.Snapshots.Backend),
	)

	if err := a.setupStores(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	if err := a.setupSnapshots(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	a.stager = staging.NewWriter(a.staging, ids, clock, logger.Named("staging"))
	a.processor = pipeline.NewProcessor(
		a.staging,
		a.events,
		normalize.New(clock),
		ids,
		clock,
		a.publisher,
		pipeline.ProcessorConfig{BatchSize: cfg.Pipeline.BatchSize},
		logger.Named("processor"),
	)

	checkerCfg := cfg.Checker()
	a.checker = linkhealth.NewChecker(linkhealth.NewCollyFetcher(checkerCfg), checkerCfg, logger.Named("linkhealth"))
	headless := a.setupHeadless(checkerCfg)
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.LinkHealth.RatePerDomain,
		DefaultBurst: cfg.LinkHealth.Burst,
	})
	logger.Info("link checker configured",
		zap.String("user_agent", checkerCfg.UserAgent),
		zap.Duration("request_timeout", checkerCfg.RequestTimeout),
		zap.Float64("rate_per_domain", cfg.LinkHealth.RatePerDomain),
		zap.Bool("headless", headless != nil),
	)
	a.healthPass = pipeline.NewHealthPass(a.events, a.checker, pipeline.HealthDeps{
		Headless:  headless,
		Limiter:   limiter,
		Snapshots: a.snapshots,
		Publisher: a.publisher,
		Clock:     clock,
	}, pipeline.HealthConfig{
		Concurrency:     cfg.LinkHealth.Concurrency,
		RecheckInterval: cfg.Pipeline.RecheckInterval,
		SnapshotPrefix:  cfg.Snapshots.Prefix,
	}, logger.Named("healthpass"))

	a.apiServer = api.NewServer(api.Deps{
		Stager:  a.stager,
		Batches: a.processor,
		Checker: a.checker,
		Sweeper: a.healthPass,
		Events:  a.events,
		Ready:   a.ready,
	}, api.Options{
		Auth:           cfg.Auth,
		RequestTimeout: cfg.Server.WriteTimeout,
		PassLimit:      cfg.Pipeline.PassLimit,
	}, logger.Named("api"))

	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Stager returns the staging writer.
func (a *App) Stager() *staging.Writer { return a.stager }

// Processor returns the batch processor.
func (a *App) Processor() *pipeline.Processor { return a.processor }

// Checker returns the plain link checker.
func (a *App) Checker() *linkhealth.Checker { return a.checker }

// HealthPass returns the link-health pass.
func (a *App) HealthPass() *pipeline.HealthPass { return a.healthPass }

// Events returns the event repository.
func (a *App) Events() events.EventRepo { return a.events }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run serves the HTTP API and blocks until ctx is canceled or a termination
// signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}

// Close releases pools, clients, and the browser.
func (a *App) Close() {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) setupStores(ctx context.Context) error {
	switch a.cfg.Database.Backend {
	case config.BackendPostgres:
		pgCfg := a.cfg.Database.Postgres()
		pool, err := pgstore.Open(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		a.pool = pool
		if a.cfg.Database.Migrate {
			if err := pgstore.Migrate(ctx, pool, pgCfg); err != nil {
				return fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		stagingStore, err := pgstore.NewStagingStore(pool, pgCfg.StagingTable)
		if err != nil {
			return fmt.Errorf("staging store init failed: %w", err)
		}
		eventStore, err := pgstore.NewEventStore(pool, pgCfg.EventsTable)
		if err != nil {
			return fmt.Errorf("event store init failed: %w", err)
		}
		a.staging, a.events, a.ready = stagingStore, eventStore, eventStore
		a.logger.Info("using postgres repositories",
			zap.String("staging_table", pgCfg.StagingTable),
			zap.String("events_table", pgCfg.EventsTable),
		)
	default:
		a.logger.Warn("using in-memory repositories; data is lost on exit")
		a.staging = memorystorage.NewStagingStore()
		a.events = memorystorage.NewEventStore()
	}
	return nil
}

func (a *App) setupSnapshots(ctx context.Context) error {
	switch a.cfg.Snapshots.Backend {
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Snapshots.Bucket})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs, a.snapshots = store, store
		a.logger.Info("using GCS snapshot archive", zap.String("bucket", a.cfg.Snapshots.Bucket))
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Snapshots.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.snapshots = store
		a.logger.Info("using local snapshot archive", zap.String("path", a.cfg.Snapshots.BaseDir))
	case config.BackendMemory:
		a.snapshots = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory snapshot archive")
	default:
		a.logger.Info("snapshot archive disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub project configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := gcppubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	pub, err := gcppublisher.Dial(ctx, client, a.cfg.PubSub.TopicName)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub, a.publisher = pub, pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupHeadless(checkerCfg linkhealth.Config) *linkhealth.Checker {
	if !a.cfg.LinkHealth.Headless.Enabled {
		return nil
	}
	fetcher, err := linkhealth.NewHeadlessFetcher(a.cfg.HeadlessFetcher())
	if err != nil {
		a.logger.Warn("headless fetcher init failed", zap.Error(err))
		return nil
	}
	a.headless = fetcher
	headlessCfg := checkerCfg
	if nav := a.cfg.LinkHealth.Headless.NavTimeout; nav > headlessCfg.RequestTimeout {
		headlessCfg.RequestTimeout = nav
	}
	a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.LinkHealth.Headless.MaxParallel))
	return linkhealth.NewChecker(fetcher, headlessCfg, a.logger.Named("headless"))
}
