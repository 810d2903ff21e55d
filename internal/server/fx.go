// Package server builds the application's dependency graph and runs the HTTP
// server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pixelpage/internal/api"
	"github.com/JakeFAU/pixelpage/internal/artifact"
	"github.com/JakeFAU/pixelpage/internal/cache"
	"github.com/JakeFAU/pixelpage/internal/clock/system"
	"github.com/JakeFAU/pixelpage/internal/config"
	collyfetcher "github.com/JakeFAU/pixelpage/internal/fetcher/colly"
	"github.com/JakeFAU/pixelpage/internal/hash/sha256"
	"github.com/JakeFAU/pixelpage/internal/id/uuid"
	"github.com/JakeFAU/pixelpage/internal/inject"
	"github.com/JakeFAU/pixelpage/internal/logging"
	"github.com/JakeFAU/pixelpage/internal/metrics"
	"github.com/JakeFAU/pixelpage/internal/pipeline"
	"github.com/JakeFAU/pixelpage/internal/policy"
	gcppublisher "github.com/JakeFAU/pixelpage/internal/publisher/pubsub"
	"github.com/JakeFAU/pixelpage/internal/snippet"
	"github.com/JakeFAU/pixelpage/internal/storage"
	gcsstorage "github.com/JakeFAU/pixelpage/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pixelpage/internal/storage/local"
	memorystorage "github.com/JakeFAU/pixelpage/internal/storage/memory"
	pgstore "github.com/JakeFAU/pixelpage/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/pixelpage/internal/storage/sqlite"
	"github.com/JakeFAU/pixelpage/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	version   string
	service   *pipeline.Service
	apiServer *api.Server
	closers   []closer
	closeOnce sync.Once
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger Build would construct from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithVersion records the build version on traces and startup logs.
func WithVersion(version string) Option {
	return func(a *App) { a.version = version }
}

// Build creates the application's dependencies. Resources opened before a
// failure are released before returning.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	app := &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger, err = logging.New(logging.Config{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(app.logger)
	}
	defer func() {
		if err != nil {
			app.closeAll(context.Background())
		}
	}()

	app.logger.Info("building application dependencies",
		zap.String("version", app.version),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("registry_backend", cfg.Registry.Backend),
	)
	metrics.Init()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  "pixelpage",
		Version:      app.version,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.addCloser("tracer", shutdownTracer)

	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	store, err := storage.New(blobs, uuid.New(), storage.Config{
		Prefix:      cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}

	registry, err := app.setupRegistry(ctx)
	if err != nil {
		return nil, err
	}

	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	renderer, err := snippet.New(snippet.Config{
		IDPattern: cfg.Snippet.IDPattern,
		Template:  cfg.Snippet.Template,
	})
	if err != nil {
		return nil, fmt.Errorf("snippet renderer init failed: %w", err)
	}

	fetcher := policy.NewFetcher(
		collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Fetch.UserAgent,
			RespectRobots: cfg.Fetch.RespectRobots,
			Timeout:       cfg.FetchTimeout(),
			MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
		}),
		policy.Config{
			BlockedDomains: cfg.Fetch.BlockedDomains,
			RateLimitRPS:   cfg.Fetch.RateLimitRPS,
			RateLimitBurst: cfg.Fetch.RateLimitBurst,
		},
	)
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Fetch.UserAgent),
		zap.Bool("respect_robots", cfg.Fetch.RespectRobots),
		zap.Duration("timeout", cfg.FetchTimeout()),
		zap.Strings("blocked_domains", cfg.Fetch.BlockedDomains),
		zap.Float64("rate_limit_rps", cfg.Fetch.RateLimitRPS),
	)

	app.service = pipeline.New(
		fetcher,
		renderer,
		inject.New(inject.Config{BaseHref: cfg.Inject.BaseHref}),
		store,
		registry,
		app.setupCache(),
		publisher,
		sha256.New(),
		system.New(),
		pipeline.Config{
			MaxEntries: cfg.Registry.MaxEntries,
			Topic:      cfg.PubSub.TopicName,
		},
		app.logger.Named("pipeline"),
	)
	app.apiServer = api.NewServer(app.service, *cfg, app.logger.Named("api"))
	return app, nil
}

// Service returns the artifact service for in-process callers such as the CLI.
func (a *App) Service() *pipeline.Service {
	return a.service
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP on the configured port until ctx is canceled or the
// process receives SIGINT/SIGTERM, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is done. It always closes the
// application before returning.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error("http server error", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		return err
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close releases every backend in reverse order of construction. Calls after
// the first are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeAll(ctx)
		a.logger.Info("shutdown complete")
		// Syncing a terminal fails on some platforms.
		_ = a.logger.Sync()
	})
	return nil
}

func (a *App) closeAll(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupBlobStore(ctx context.Context) (artifact.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return blobs.Close() })
		return blobs, nil
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupRegistry(ctx context.Context) (artifact.Registry, error) {
	switch a.cfg.Registry.Backend {
	case config.BackendSQLite:
		a.logger.Info("using sqlite registry", zap.String("path", a.cfg.Registry.SQLitePath))
		reg, err := sqlitestore.Open(ctx, a.cfg.Registry.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite registry init failed: %w", err)
		}
		a.addCloser("sqlite", func(context.Context) error { return reg.Close() })
		return reg, nil
	case config.BackendPostgres:
		reg, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			Table:           a.cfg.DB.Table,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres registry init failed: %w", err)
		}
		a.logger.Info("using postgres registry", zap.String("table", a.cfg.DB.Table))
		a.addCloser("postgres", func(context.Context) error {
			reg.Close()
			return nil
		})
		return reg, nil
	default:
		a.logger.Info("using in-memory registry")
		return memorystorage.NewRegistry(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (artifact.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, lifecycle events disabled")
		return nil, nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.addCloser("pubsub", func(context.Context) error { return pub.Close() })
	a.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupCache() artifact.ContentCache {
	if !a.cfg.Cache.Enabled {
		a.logger.Info("serve cache disabled")
		return cache.Noop{}
	}
	a.logger.Info("serve cache enabled",
		zap.Duration("ttl", a.cfg.CacheTTL()),
		zap.Duration("cleanup", a.cfg.CacheCleanup()),
	)
	return cache.New(a.cfg.CacheTTL(), a.cfg.CacheCleanup())
}
