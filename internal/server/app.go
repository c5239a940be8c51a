// Package server builds the application's dependencies from configuration
// and owns their lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dvernon0786/Infin8Content-sub000/internal/api"
	"github.com/dvernon0786/Infin8Content-sub000/internal/clock/system"
	"github.com/dvernon0786/Infin8Content-sub000/internal/cluster"
	"github.com/dvernon0786/Infin8Content-sub000/internal/config"
	"github.com/dvernon0786/Infin8Content-sub000/internal/expander"
	"github.com/dvernon0786/Infin8Content-sub000/internal/export"
	"github.com/dvernon0786/Infin8Content-sub000/internal/extractor"
	"github.com/dvernon0786/Infin8Content-sub000/internal/filter"
	"github.com/dvernon0786/Infin8Content-sub000/internal/id/uuid"
	"github.com/dvernon0786/Infin8Content-sub000/internal/keyword"
	"github.com/dvernon0786/Infin8Content-sub000/internal/logging"
	"github.com/dvernon0786/Infin8Content-sub000/internal/metrics"
	"github.com/dvernon0786/Infin8Content-sub000/internal/pipeline"
	"github.com/dvernon0786/Infin8Content-sub000/internal/progress"
	progresssinks "github.com/dvernon0786/Infin8Content-sub000/internal/progress/sinks"
	"github.com/dvernon0786/Infin8Content-sub000/internal/provider"
	memorypublisher "github.com/dvernon0786/Infin8Content-sub000/internal/publisher/memory"
	gcppublisher "github.com/dvernon0786/Infin8Content-sub000/internal/publisher/pubsub"
	"github.com/dvernon0786/Infin8Content-sub000/internal/retry"
	gcsstorage "github.com/dvernon0786/Infin8Content-sub000/internal/storage/gcs"
	localstorage "github.com/dvernon0786/Infin8Content-sub000/internal/storage/local"
	memorystorage "github.com/dvernon0786/Infin8Content-sub000/internal/storage/memory"
	pgstore "github.com/dvernon0786/Infin8Content-sub000/internal/storage/postgres"
	"github.com/dvernon0786/Infin8Content-sub000/internal/store"
	"github.com/dvernon0786/Infin8Content-sub000/internal/workflow"
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	pool            *pgxpool.Pool
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	memoryPublisher *memorypublisher.Publisher
	storage         *storage.Client
	progressHub     *progress.Hub

	workflows store.WorkflowRepository
	keywords  store.KeywordRepository
	clusters  store.ClusterRepository
	tracker   *workflow.Tracker
	runner    *pipeline.Runner
	exporter  *export.Exporter
	apiServer *api.Server
}

// Build creates the application's dependencies. On error everything built so
// far is released.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return NewApp(ctx, cfg, logger)
}

// NewApp builds the application around an existing logger.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	built := false
	defer func() {
		if !built {
			app.Close(context.WithoutCancel(ctx))
		}
	}()
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var err error
	if app.metrics, err = metrics.New(app.registry); err != nil {
		return nil, err
	}

	app.logger.Info("building application dependencies", zap.Int("server_port", cfg.Server.Port))
	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	blobs, err := setupExport(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	emitter, err := setupProgress(app, publisher)
	if err != nil {
		return nil, err
	}
	opts, err := StageOptions(cfg)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	app.tracker = workflow.New(app.workflows, clock, emitter, logger)
	app.exporter = export.New(app.keywords, app.clusters, blobs, clock, logger)

	var (
		ext *extractor.Extractor
		exp *expander.Expander
	)
	if cfg.HasProviderCredentials() {
		client, perr := provider.New(provider.Config{
			BaseURL:  cfg.Provider.BaseURL,
			Login:    cfg.Provider.Login,
			Password: cfg.Provider.Password,
			Timeout:  cfg.Provider.Timeout,
			RPS:      cfg.Provider.RPS,
			Burst:    cfg.Provider.Burst,
		}, nil, app.metrics, logger)
		if perr != nil {
			return nil, fmt.Errorf("provider client init failed: %w", perr)
		}
		ext = extractor.New(client, app.keywords, ids, clock, logger)
		exp = expander.New(client.DiscoverySources(), app.keywords, ids, clock, logger)
		app.logger.Info("keyword-data provider configured",
			zap.String("base_url", cfg.Provider.BaseURL),
			zap.Float64("rps", cfg.Provider.RPS),
		)
	} else {
		app.logger.Warn("no provider credentials configured, extraction and expansion are disabled")
	}

	app.runner = pipeline.New(
		app.tracker,
		ext,
		exp,
		filter.New(app.keywords, clock, logger),
		cluster.New(app.keywords, app.clusters, ids, clock, emitter, nil, logger),
		opts,
		logger,
	)
	app.apiServer = api.NewServer(app.workflows, app.keywords, app.exporter, app.metrics, app.registry, app.ready, logger)
	built = true
	return app, nil
}

// StageOptions maps configuration onto the per-stage options.
func StageOptions(cfg config.Config) (pipeline.Options, error) {
	policy := retry.Policy{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialDelay:      cfg.Retry.InitialDelay,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		MaxDelay:          cfg.Retry.MaxDelay,
	}
	if err := policy.Validate(); err != nil {
		return pipeline.Options{}, fmt.Errorf("retry policy: %w", err)
	}
	opts := pipeline.DefaultOptions()
	opts.Extraction = extractor.Options{
		MaxPerCompetitor: cfg.Extraction.MaxPerCompetitor,
		LocationCode:     cfg.Extraction.LocationCode,
		LanguageCode:     cfg.Extraction.LanguageCode,
		Timeout:          cfg.Extraction.Timeout,
		Retry:            policy,
	}
	opts.Expansion = expander.Options{
		LocationCode: cfg.Extraction.LocationCode,
		LanguageCode: cfg.Extraction.LanguageCode,
		SourceLimit:  cfg.Expansion.SourceLimit,
		MaxLongtails: cfg.Expansion.MaxLongtails,
		Retry:        policy,
	}
	opts.Filter = filter.Options{
		MinSearchVolume:     cfg.Filter.MinSearchVolume,
		SimilarityThreshold: cfg.Filter.SimilarityThreshold,
	}
	opts.Clustering = cluster.Options{
		SimilarityThreshold: cfg.Clustering.SimilarityThreshold,
		MaxSpokesPerHub:     cfg.Clustering.MaxSpokesPerHub,
		MinClusterSize:      cfg.Clustering.MinClusterSize,
	}
	if err := opts.Clustering.Validate(); err != nil {
		return pipeline.Options{}, fmt.Errorf("clustering options: %w", err)
	}
	return opts, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runner returns the pipeline runner.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// Tracker returns the workflow status tracker.
func (a *App) Tracker() *workflow.Tracker { return a.tracker }

// Exporter returns the cluster plan exporter.
func (a *App) Exporter() *export.Exporter { return a.exporter }

// Handler returns the status API handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Serve runs the status API until ctx is canceled, then shuts it down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close flushes analytics and releases every client. It is safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("analytics hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, using in-memory stores")
		app.workflows = memorystorage.NewWorkflowStore()
		app.keywords = memorystorage.NewKeywordStore()
		app.clusters = memorystorage.NewClusterStore()
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	app.pool = pool
	if app.keywords, err = pgstore.NewKeywordStore(pool); err != nil {
		return err
	}
	if app.clusters, err = pgstore.NewClusterStore(pool); err != nil {
		return err
	}
	if app.workflows, err = pgstore.NewWorkflowStore(pool); err != nil {
		return err
	}
	app.logger.Info("postgres stores initialized", zap.Int32("max_conns", app.cfg.DB.MaxConns))
	return nil
}

func setupExport(ctx context.Context, app *App) (keyword.BlobStore, error) {
	switch app.cfg.Export.Backend {
	case "gcs":
		app.logger.Info("using GCS export backend", zap.String("bucket", app.cfg.Export.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Export.Bucket, Prefix: app.cfg.Export.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		app.logger.Info("using local export backend", zap.String("path", app.cfg.Export.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Export.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Info("using in-memory export backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (keyword.Publisher, error) {
	if app.cfg.Analytics.Topic == "" {
		return nil, nil
	}
	if app.cfg.Analytics.ProjectID == "" {
		app.logger.Warn("no analytics project configured, published events are kept in memory",
			zap.String("topic", app.cfg.Analytics.Topic))
		app.memoryPublisher = memorypublisher.New()
		return app.memoryPublisher, nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.Analytics.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub analytics publisher initialized",
		zap.String("project", app.cfg.Analytics.ProjectID),
		zap.String("topic", app.cfg.Analytics.Topic),
	)
	return app.pubsubPublisher, nil
}

func setupProgress(app *App, publisher keyword.Publisher) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(app.registry)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if app.cfg.Analytics.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("analytics_log")))
	}
	if publisher != nil {
		pubSink, err := progresssinks.NewPublisherSink(publisher, app.cfg.Analytics.Topic, app.logger.Named("analytics_pubsub"))
		if err != nil {
			return nil, fmt.Errorf("publisher sink init failed: %w", err)
		}
		sinkList = append(sinkList, pubSink)
	}
	app.progressHub = progress.NewHub(progress.Config{
		BufferSize: app.cfg.Analytics.BufferSize,
		Logger:     app.logger,
	}, sinkList...)
	app.logger.Info("analytics hub initialized",
		zap.Int("buffer_size", app.cfg.Analytics.BufferSize),
		zap.Int("sinks", len(sinkList)),
	)
	return app.progressHub, nil
}
