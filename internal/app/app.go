// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jobrunner/vicinus/internal/adapters/filestore"
	"github.com/jobrunner/vicinus/internal/adapters/geopackage"
	httpAdapter "github.com/jobrunner/vicinus/internal/adapters/http"
	"github.com/jobrunner/vicinus/internal/adapters/metrics"
	"github.com/jobrunner/vicinus/internal/adapters/oracle"
	"github.com/jobrunner/vicinus/internal/adapters/storage"
	tlsAdapter "github.com/jobrunner/vicinus/internal/adapters/tls"
	"github.com/jobrunner/vicinus/internal/adapters/watcher"
	"github.com/jobrunner/vicinus/internal/application"
	"github.com/jobrunner/vicinus/internal/config"
	"github.com/jobrunner/vicinus/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Storage       output.ObjectStorage
	Registry      *application.LayerRegistry
	ChatService   *application.ChatService
	HealthService *application.HealthService
	SyncService   *application.SyncService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("vicinus")
		metricsCollector = app.Metrics
	}

	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = store

	// Feature stores over the dataset directory. Earlier stores win name clashes.
	stores := []output.FeatureStore{
		geopackage.NewRepository(cfg.Storage.LocalPath, logger),
		filestore.NewStore(cfg.Storage.LocalPath, logger),
	}

	app.Registry = application.NewLayerRegistry(
		stores,
		app.Storage,
		metricsCollector,
		logger,
		cfg.Storage.LocalPath,
	)
	app.Registry.SetDescriptions(cfg.Catalog.Descriptions)

	interpreterOracle, phraser := initOracle(cfg.Oracle, logger)

	executor, err := application.NewSpatialExecutor(
		app.Registry,
		metricsCollector,
		logger,
		application.ExecutorConfig{
			BufferSegments: cfg.Analysis.BufferSegments,
			CacheSize:      cfg.Analysis.CacheSize,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("initializing executor: %w", err)
	}

	app.ChatService = application.NewChatService(
		app.Registry,
		application.NewQueryInterpreter(interpreterOracle, metricsCollector, logger, cfg.Oracle.Timeout),
		executor,
		application.NewResponseComposer(phraser, metricsCollector, logger, cfg.Oracle.PhrasingTimeout),
		metricsCollector,
		logger,
		application.ChatServiceConfig{
			Retries:         cfg.Oracle.Retries,
			AnalysisTimeout: cfg.Analysis.Timeout,
		},
	)

	app.HealthService = application.NewHealthService(app.Registry, cfg.Oracle.Provider)
	app.SyncService = application.NewSyncService(app.Registry, cfg.Storage.SyncInterval, logger)

	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.ChatService,
		app.Registry,
		app.HealthService,
		app.SyncService,
		logger,
	)
	if app.Metrics != nil {
		app.HTTPServer.EnableMetrics(cfg.Metrics.Path, app.Metrics.Handler(), app.Metrics.Middleware)
	}

	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					TenantID:          cfg.TLS.DNS.TenantID,
					ClientID:          cfg.TLS.DNS.ClientID,
					ClientSecret:      cfg.TLS.DNS.ClientSecret,
				},
			},
			app.HTTPServer.Router(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// Local datasets are hot-reloaded; remote ones arrive through sync.
	if cfg.Storage.Type == "local" && cfg.Storage.Watch {
		w, err := watcher.New(
			watcher.Config{
				Paths:  []string{cfg.Storage.LocalPath},
				Filter: storage.IsDatasetFile,
			},
			app.handleFileEvents,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// LoadCatalog builds the first catalog, syncing remote datasets first.
func (a *App) LoadCatalog(ctx context.Context) error {
	if a.Config.Storage.Type != "local" {
		if _, err := a.Registry.Sync(ctx); err != nil {
			a.Logger.Warn("initial sync failed, serving local copies", "error", err)
		}
	}
	if a.Registry.Snapshot().Version > 0 {
		return nil
	}
	return a.Registry.Reload(ctx)
}

// Start loads the catalog and serves until the server stops.
func (a *App) Start(ctx context.Context) error {
	if err := a.LoadCatalog(ctx); err != nil {
		a.Logger.Warn("failed to load catalog", "error", err)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	// Scheduled sync mirrors remote storage, or polls the local directory
	// when it is not watched.
	if a.Config.Storage.SyncInterval > 0 && a.Watcher == nil {
		a.SyncService.Start(ctx)
	}

	if a.TLSServer != nil {
		if err := a.TLSServer.ManageCertificates(ctx); err != nil {
			return err
		}
		return a.TLSServer.ListenAndServe(
			a.Config.Server.Address(),
			a.Config.Server.ReadTimeout,
			a.Config.Server.WriteTimeout,
		)
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	a.SyncService.Stop()

	var errs []error
	if a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("TLS server: %w", err))
		}
	}
	if err := a.HTTPServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("HTTP server: %w", err))
	}
	if err := a.Registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing stores: %w", err))
	}

	return errors.Join(errs...)
}

// handleFileEvents rebuilds the catalog after dataset files changed.
func (a *App) handleFileEvents(ctx context.Context, events []watcher.Event) error {
	for _, e := range events {
		a.Logger.Debug("dataset changed", "path", e.Path, "operation", e.Operation.String())
	}
	a.Logger.Info("reloading catalog", "changed_files", len(events))
	return a.Registry.Reload(ctx)
}

// initOracle builds the interpretation oracle and the optional phrasing
// oracle. Phrasing is nil when disabled, so responses use the template.
func initOracle(cfg config.OracleConfig, logger *slog.Logger) (output.FunctionOracle, output.PhrasingOracle) {
	if cfg.Provider != "anthropic" {
		logger.Warn("no oracle provider configured, questions cannot be interpreted")
		return oracle.Disabled{}, nil
	}

	client := oracle.NewAnthropic(oracle.Config{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	}, logger)

	if !cfg.Phrasing {
		return client, nil
	}
	return client, client
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case "http":
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
