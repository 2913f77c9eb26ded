// Package server builds the application's dependencies from configuration and
// runs the HTTP server, worker pool and task reaper until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ingest-progress/internal/api"
	"github.com/JakeFAU/ingest-progress/internal/clock/system"
	"github.com/JakeFAU/ingest-progress/internal/config"
	"github.com/JakeFAU/ingest-progress/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/ingest-progress/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/ingest-progress/internal/fetcher/headless"
	"github.com/JakeFAU/ingest-progress/internal/hash/sha256"
	"github.com/JakeFAU/ingest-progress/internal/headless/detector"
	"github.com/JakeFAU/ingest-progress/internal/id/uuid"
	"github.com/JakeFAU/ingest-progress/internal/ingest"
	"github.com/JakeFAU/ingest-progress/internal/logging"
	"github.com/JakeFAU/ingest-progress/internal/policy/blocklist"
	"github.com/JakeFAU/ingest-progress/internal/policy/ratelimit"
	"github.com/JakeFAU/ingest-progress/internal/progress"
	progresssinks "github.com/JakeFAU/ingest-progress/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/ingest-progress/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/ingest-progress/internal/publisher/pubsub"
	"github.com/JakeFAU/ingest-progress/internal/publisher/rabbitmq"
	redispublisher "github.com/JakeFAU/ingest-progress/internal/publisher/redis"
	queuemem "github.com/JakeFAU/ingest-progress/internal/queue/memory"
	"github.com/JakeFAU/ingest-progress/internal/registry"
	gcsstorage "github.com/JakeFAU/ingest-progress/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ingest-progress/internal/storage/local"
	memorystorage "github.com/JakeFAU/ingest-progress/internal/storage/memory"
	pgstore "github.com/JakeFAU/ingest-progress/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/ingest-progress/internal/storage/sqlite"
	"github.com/JakeFAU/ingest-progress/internal/stream"
	"github.com/JakeFAU/ingest-progress/internal/subscription"
	"github.com/JakeFAU/ingest-progress/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	level    zap.AtomicLevel
	registry *registry.Registry
	hub      *subscription.Hub
	progress *progress.Hub
	queue    *queuemem.Queue
	dispatch *dispatcher.Dispatcher
	api      *api.Server

	// closers run in reverse order during shutdown.
	closers []namedCloser
	checks  map[string]api.ReadinessCheck
	stats   []api.StatsFunc
}

type namedCloser struct {
	name string
	fn   func(context.Context) error
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, level, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{
		cfg:    cfg,
		logger: logger,
		level:  level,
		checks: make(map[string]api.ReadinessCheck),
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("notify_backend", cfg.Notify.Backend),
	)

	if err := app.build(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	archive, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	vectors, err := a.setupVectorStore(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	if err := a.setupProgress(publisher); err != nil {
		return err
	}

	a.hub = subscription.NewHub(subscription.Config{
		BufferSize: a.cfg.Tasks.SubscriberBuffer,
		Logger:     a.logger.Named("subscriptions"),
	})
	a.registry = registry.New(
		registry.WithClock(system.New()),
		registry.WithIDGenerator(uuid.New()),
		registry.WithNotifier(a.hub),
		registry.WithEmitter(a.progress),
		registry.WithLogger(a.logger.Named("registry")),
	)

	loader := a.setupLoader()
	pipeline := ingest.NewPipeline(
		ingest.NewSplitter(a.cfg.Ingest.ChunkSize, a.cfg.Ingest.ChunkOverlap),
		ingest.NewHashEmbedder(a.cfg.Ingest.EmbeddingDims),
		vectors,
		a.logger.Named("pipeline"),
	)
	service := ingest.NewService(ingest.ServiceConfig{
		Concurrency:   a.cfg.Ingest.PageConcurrency,
		ArchivePrefix: a.cfg.Ingest.ArchivePrefix,
	}, loader, pipeline, archive, sha256.New(), a.logger.Named("ingest"))

	a.queue = queuemem.NewQueue(a.cfg.Ingest.QueueDepth)
	a.checks["queue"] = func(context.Context) error {
		if a.queue.Len() >= a.queue.Cap() {
			return errors.New("work queue full")
		}
		return nil
	}
	workers := make([]*worker.Worker, 0, a.cfg.Ingest.Workers)
	for i := range a.cfg.Ingest.Workers {
		workers = append(workers, worker.New(i, a.queue, service, a.registry,
			worker.Config{JobTimeout: a.cfg.JobTimeout()},
			a.logger.Named("worker"),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers)
	a.logger.Info("worker pool configured",
		zap.Int("workers", a.cfg.Ingest.Workers),
		zap.Int("queue_depth", a.cfg.Ingest.QueueDepth),
		zap.Duration("job_timeout", a.cfg.JobTimeout()),
	)

	streams := stream.NewHandler(a.registry, a.hub, a.cfg.Heartbeat(), a.logger.Named("stream"))
	opts := []api.Option{
		api.WithRequestIDs(uuid.New()),
		api.WithStats(a.collectStats),
	}
	for name, check := range a.checks {
		opts = append(opts, api.WithReadinessCheck(name, check))
	}
	a.api = api.NewServer(a.registry, streams, a.dispatch, a.cfg, a.logger.Named("api"), opts...)
	return nil
}

func (a *App) collectStats(ctx context.Context) map[string]any {
	out := map[string]any{
		"subscriptions":        a.hub.Topics(),
		"subscription_dropped": a.hub.Dropped(),
		"queue_length":         a.queue.Len(),
	}
	if a.progress != nil {
		out["progress_dropped"] = a.progress.Dropped()
	}
	for _, fn := range a.stats {
		for k, v := range fn(ctx) {
			out[k] = v
		}
	}
	return out
}

func (a *App) setupArchive(ctx context.Context) (ingest.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.onClose("gcs archive", func(context.Context) error { return store.Close() })
		a.logger.Info("using GCS document archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case config.StorageLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("using local document archive", zap.String("path", a.cfg.Storage.BaseDir))
		return store, nil
	case config.StorageNone:
		a.logger.Info("document archive disabled")
		return nil, nil
	default:
		a.logger.Info("using in-memory document archive")
		store := memorystorage.NewBlobStore()
		a.stats = append(a.stats, func(context.Context) map[string]any {
			return map[string]any{"archived_documents": len(store.Keys())}
		})
		return store, nil
	}
}

func (a *App) setupVectorStore(ctx context.Context) (ingest.VectorStore, error) {
	switch a.cfg.Database.Driver {
	case config.DatabasePostgres:
		store, err := pgstore.NewChunkStore(ctx, pgstore.ChunkStoreConfig{
			DSN:      a.cfg.Database.DSN,
			Table:    a.cfg.Database.Table,
			MaxConns: a.cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres chunk store init failed: %w", err)
		}
		a.onClose("postgres", func(context.Context) error {
			store.Close()
			return nil
		})
		a.checks["postgres"] = store.Ping
		a.logger.Info("using postgres chunk store", zap.String("table", a.cfg.Database.Table))
		return store, nil
	case config.DatabaseSQLite:
		store, err := sqlitestore.Open(ctx, a.cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite chunk store init failed: %w", err)
		}
		a.onClose("sqlite", func(context.Context) error { return store.Close() })
		a.checks["sqlite"] = store.Ping
		a.stats = append(a.stats, func(ctx context.Context) map[string]any {
			n, err := store.Count(ctx)
			if err != nil {
				a.logger.Warn("count chunks failed", zap.Error(err))
				return nil
			}
			return map[string]any{"vector_store_count": n}
		})
		a.logger.Info("using sqlite chunk store", zap.String("path", a.cfg.Database.DSN))
		return store, nil
	default:
		store := memorystorage.NewVectorStore()
		a.stats = append(a.stats, func(context.Context) map[string]any {
			return map[string]any{"vector_store_count": store.Count()}
		})
		a.logger.Info("using in-memory chunk store")
		return store, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (progresssinks.Publisher, error) {
	topic := a.cfg.Notify.Topic
	switch a.cfg.Notify.Backend {
	case config.NotifyPubSub:
		pub, err := gcppublisher.Dial(ctx, gcppublisher.Config{ProjectID: a.cfg.PubSub.ProjectID, DefaultTopic: topic})
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.onClose("pubsub", func(context.Context) error { return pub.Close() })
		a.logger.Info("publishing task notifications to Pub/Sub",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", topic),
		)
		return pub, nil
	case config.NotifyRedis:
		pub, err := redispublisher.Dial(redispublisher.Config{
			Addr:         a.cfg.Redis.Addr,
			Password:     a.cfg.Redis.Password,
			DB:           a.cfg.Redis.DB,
			DefaultTopic: topic,
		})
		if err != nil {
			return nil, fmt.Errorf("redis publisher init failed: %w", err)
		}
		a.onClose("redis", func(context.Context) error { return pub.Close() })
		a.checks["redis"] = pub.Ping
		a.logger.Info("publishing task notifications to Redis streams",
			zap.String("addr", a.cfg.Redis.Addr),
			zap.String("stream", topic),
		)
		return pub, nil
	case config.NotifyAMQP:
		pub, err := rabbitmq.Dial(a.cfg.AMQP.URL, topic)
		if err != nil {
			return nil, fmt.Errorf("amqp publisher init failed: %w", err)
		}
		a.onClose("amqp", func(context.Context) error { return pub.Close() })
		a.logger.Info("publishing task notifications to RabbitMQ", zap.String("queue", topic))
		return pub, nil
	case config.NotifyNone:
		a.logger.Info("task notifications disabled")
		return nil, nil
	default:
		a.logger.Info("recording task notifications in memory")
		pub := memorypublisher.New()
		a.stats = append(a.stats, func(context.Context) map[string]any {
			return map[string]any{"notifications_published": len(pub.Messages())}
		})
		return pub, nil
	}
}

func (a *App) setupProgress(publisher progresssinks.Publisher) error {
	var sinks []progress.Sink
	if a.cfg.Progress.LogSink {
		sinks = append(sinks, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if a.cfg.Progress.MetricsSink {
		sink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("progress metrics sink init failed: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if publisher != nil {
		sinks = append(sinks, progresssinks.NewPublishSink(publisher, a.cfg.Notify.Topic, a.logger.Named("notify")))
	}
	if len(sinks) == 0 {
		a.logger.Info("no progress sinks configured")
		return nil
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progress = progress.NewHub(hubCfg, sinks...)
	a.onClose("progress hub", a.progress.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinks)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupLoader() ingest.Loader {
	opts := []collyfetcher.Option{collyfetcher.WithLogger(a.logger.Named("fetcher"))}
	if bl := blocklist.New(a.cfg.Ingest.BlockedDomains); bl != nil {
		opts = append(opts, collyfetcher.WithBlocklist(bl))
		a.logger.Info("host blocklist enabled", zap.Strings("patterns", a.cfg.Ingest.BlockedDomains))
	}
	if a.cfg.Ingest.RateLimitRPS > 0 {
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Ingest.RateLimitRPS,
			DefaultBurst: a.cfg.Ingest.RateLimitBurst,
		})
		opts = append(opts, collyfetcher.WithLimiter(limiter))
		a.stats = append(a.stats, func(context.Context) map[string]any {
			return map[string]any{"rate_limited_hosts": limiter.Domains()}
		})
		a.logger.Info("per-host rate limit enabled",
			zap.Float64("rps", a.cfg.Ingest.RateLimitRPS),
			zap.Int("burst", a.cfg.Ingest.RateLimitBurst),
		)
	}
	if a.cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Ingest.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			a.logger.Warn("headless renderer init failed, continuing without it", zap.Error(err))
		} else {
			a.onClose("headless renderer", func(context.Context) error {
				renderer.Close()
				return nil
			})
			opts = append(opts, collyfetcher.WithRenderer(renderer,
				detector.NewHeuristic(a.cfg.Headless.BodyThreshold, a.cfg.Headless.MinTextRunes)))
			a.logger.Info("headless rendering enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Ingest.UserAgent,
		RespectRobots: a.cfg.Ingest.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		MaxPages:      a.cfg.Ingest.MaxPages,
		Concurrency:   a.cfg.Ingest.PageConcurrency,
	}, opts...)
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// WatchConfig applies log level changes from the file at path while the
// service runs. Other settings need a restart.
func (a *App) WatchConfig(path string) error {
	return config.Watch(path, func(cfg config.Config, err error) {
		if err != nil {
			a.logger.Warn("config reload rejected", zap.Error(err))
			return
		}
		lvl, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			a.logger.Warn("config reload rejected", zap.Error(err))
			return
		}
		if lvl != a.level.Level() {
			a.level.SetLevel(lvl)
			a.logger.Info("log level changed", zap.Stringer("level", lvl))
		}
	})
}

// Run starts the workers, the reaper and the HTTP server, and blocks until ctx
// is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("task reaper started",
			zap.Duration("interval", a.cfg.Tasks.ReapInterval),
			zap.Duration("max_age", a.cfg.Tasks.MaxAge),
		)
		a.registry.RunReaper(gctx, a.cfg.Tasks.ReapInterval, a.cfg.Tasks.MaxAge)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		a.queue.Close()
		return nil
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// Close releases every dependency in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
