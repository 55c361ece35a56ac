// Package app provides the unified application lifecycle management for Trailmap.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/trailmap/trailmap/internal/api/http"
	"github.com/trailmap/trailmap/internal/bus"
	"github.com/trailmap/trailmap/internal/cache"
	"github.com/trailmap/trailmap/internal/config"
	"github.com/trailmap/trailmap/internal/eventstore"
	"github.com/trailmap/trailmap/internal/identity"
	"github.com/trailmap/trailmap/internal/observability"
	"github.com/trailmap/trailmap/internal/paths"
	"github.com/trailmap/trailmap/internal/server"
	"github.com/trailmap/trailmap/internal/storage"
)

// App owns every Trailmap service: the event store with its journal and
// archiver, the identity store, the path engine with its result cache,
// and the HTTP surface. Which services actually run depends on the
// configured mode.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	// Shared resources
	storage     storage.ObjectStorage
	events      *eventstore.SQLiteEventStore
	identities  *identity.SQLiteIdentityStore
	journal     *eventstore.Journal
	resultCache *cache.ResultCache
	pathStats   *observability.PathStats
	notifier    *bus.Notifier
	shutdown    *server.ShutdownManager

	httpServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg, log: log}, nil
}

// Start initializes shared resources and starts the configured services.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	routerCfg := httpapi.RouterConfig{
		Cache: a.resultCache,
		Stats: a.pathStats,
		Log:   a.log,
	}

	if a.cfg.ShouldRunIngest() {
		ingestor, err := a.startIngest(ctx)
		if err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start ingest service: %w", err)
		}
		routerCfg.Ingest = httpapi.NewIngestHandler(ingestor)
	}

	if a.cfg.ShouldRunQuery() {
		engine := a.buildEngine()
		routerCfg.Paths = httpapi.NewPathsHandler(engine, a.pathStats)
		routerCfg.Persons = httpapi.NewPersonsHandler(a.identities)
	}

	a.httpServer = &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: server.ShutdownMiddleware(a.shutdown)(
			httpapi.NewRouter(routerCfg)),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.shutdown.Serve(a.httpServer); err != nil {
			a.log.Error().Err(err).Msg("http server failed")
		}
	}()

	a.log.Info().
		Str("mode", string(a.cfg.Mode)).
		Str("addr", a.cfg.HTTP.Addr).
		Msg("trailmap started")
	return nil
}

// initSharedResources opens stores, the cache, and shutdown tracking.
func (a *App) initSharedResources(ctx context.Context) error {
	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{}, a.log)
	a.pathStats = observability.NewPathStats(time.Hour)

	var err error
	switch a.cfg.Storage.Type {
	case "s3":
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       a.cfg.Storage.S3.Region,
			Endpoint:     a.cfg.Storage.S3.Endpoint,
			UsePathStyle: a.cfg.Storage.S3.Endpoint != "",
		})
	default:
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	}
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	a.events, err = eventstore.NewSQLiteEventStore(a.cfg.EventsPath())
	if err != nil {
		return fmt.Errorf("event store: %w", err)
	}
	a.shutdown.RegisterCloser(a.events)

	a.identities, err = identity.NewSQLiteIdentityStore(a.cfg.PersonsPath())
	if err != nil {
		return fmt.Errorf("identity store: %w", err)
	}
	a.shutdown.RegisterCloser(a.identities)

	a.notifier = bus.NewNotifier(256)
	a.identities.OnDelete(func(personID int64) {
		// Invalidation happens synchronously with the delete, so no
		// later page read can observe the stale aggregation. The bus
		// only fans the fact out to observers.
		if a.resultCache != nil {
			n := a.resultCache.Invalidate(personID)
			if n > 0 {
				a.log.Debug().Int64("person_id", personID).Int("entries", n).
					Msg("cache entries invalidated by person deletion")
			}
		}
		a.notifier.Publish(bus.Notification{
			Type:      bus.PersonDeleted,
			PersonID:  personID,
			Timestamp: time.Now().UnixNano(),
		})
	})

	if a.cfg.Cache.Enabled {
		a.resultCache = cache.NewResultCache(a.cfg.Cache.MaxBytes)
	}
	return nil
}

// startIngest opens the journal, replays anything not yet applied to
// the event store, and starts the segment archiver.
func (a *App) startIngest(ctx context.Context) (*eventstore.Ingestor, error) {
	var err error
	a.journal, err = eventstore.NewJournal(a.cfg.Ingest.JournalDir, a.cfg.Ingest.JournalSegmentBytes)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	a.shutdown.RegisterCloser(a.journal)

	recovery := eventstore.NewRecovery(a.journal, a.events, a.log)
	replayed, err := recovery.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}
	if replayed > 0 {
		a.log.Info().Int("entries", replayed).Msg("journal entries replayed into the event store")
	}

	archiver := eventstore.NewArchiver(a.journal, a.storage, a.events, a.cfg.Ingest.ArchiveInterval, a.log)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		archiver.Run(ctx)
	}()

	return eventstore.NewIngestor(a.journal, a.events, a.log), nil
}

// Notifier exposes the mutation bus so embedders can watch person
// deletions, e.g. to mirror invalidation into an external cache tier.
func (a *App) Notifier() *bus.Notifier {
	return a.notifier
}

// buildEngine assembles the path engine over the shared stores.
func (a *App) buildEngine() *paths.Engine {
	opts := []paths.Option{
		paths.WithMaxSteps(a.cfg.Paths.MaxStepsPerPerson),
		paths.WithDefaultPageLimit(a.cfg.Paths.DefaultPageLimit),
	}
	if a.resultCache != nil {
		opts = append(opts, paths.WithCache(a.resultCache))
	}
	return paths.NewEngine(a.events, a.identities, a.cfg.Paths.Concurrency, a.log, opts...)
}

// Run starts the app and blocks until a shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	err := a.shutdown.ListenForSignals(ctx)
	a.cleanup()
	return err
}

// Stop shuts the app down and waits for background work to finish.
func (a *App) Stop(ctx context.Context) error {
	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.cleanup()
	return err
}

func (a *App) cleanup() {
	if a.shutdown != nil {
		a.shutdown.Shutdown(context.Background(), "cleanup")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.wg.Wait()
	a.running = false
}
