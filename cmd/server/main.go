package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"Skein/internal/api/handlers"
	"Skein/internal/api/handlers/timeline"
	"Skein/internal/api/middleware"
	"Skein/internal/api/routes"
	"Skein/internal/atproto/bsky"
	"Skein/internal/atproto/jetstream"
	"Skein/internal/atproto/pds"
	"Skein/internal/core/actions"
	"Skein/internal/core/canonical"
	"Skein/internal/core/feed"
	"Skein/internal/core/platforms"
	"Skein/internal/core/reachability"
	"Skein/internal/core/resolver"
	"Skein/internal/core/serial"
	postgresRepo "Skein/internal/db/postgres"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Offline queue persistence (optional)
	var queueStore actions.QueueStore
	if cfg.DatabaseURL != "" {
		db, err := openDatabase(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		queueStore = postgresRepo.NewPendingActionRepository(db)
		logger.Info("offline queue persisted to postgres")
	}

	loop := serial.New(256)
	defer loop.Close()

	store := canonical.NewStore(
		resolver.New(logger),
		canonical.WithSortPolicy(cfg.SortPolicy),
		canonical.WithLogger(logger),
	)
	container := actions.NewContainer(actions.SystemClock{})

	router := platforms.NewRouter(platforms.WithLogger(logger))
	var (
		fetcher timeline.Fetcher
		account string
	)
	if cfg.HasAccount() {
		client, err := pds.Login(ctx, cfg.BskyHost, cfg.BskyHandle, cfg.BskyAppPassword, pds.WithLogger(logger))
		if err != nil {
			// Start anyway: timelines can still be ingested over HTTP, and
			// actions fail with ErrUnsupportedPlatform until restart.
			logger.Error("bluesky login failed", "host", cfg.BskyHost, "handle", cfg.BskyHandle, "error", err)
		} else {
			svc := bsky.NewService(client, logger)
			router.Register(resolver.PlatformBluesky, svc)
			fetcher = svc
			account = client.DID()
			logger.Info("bluesky account ready", "did", account, "host", client.HostURL())
		}
	}

	monitor := reachability.NewMonitor(cfg.ProbeURL,
		reachability.WithInterval(cfg.ProbeInterval),
		reachability.WithLogger(logger),
	)
	go monitor.Start(ctx)

	coordOpts := []actions.Option{
		actions.WithDebounce(cfg.ActionDebounce),
		actions.WithStaleAfter(cfg.ActionStaleAfter),
		actions.WithCallTimeout(cfg.ActionTimeout),
		actions.WithRetryAfter(cfg.ActionRetryAfter),
		actions.WithLogger(logger),
	}
	if queueStore != nil {
		coordOpts = append(coordOpts, actions.WithQueueStore(queueStore))
	}
	coordinator := actions.NewCoordinator(loop, container, router, monitor, coordOpts...)
	defer coordinator.Close()

	if err := coordinator.Restore(ctx); err != nil {
		logger.Error("failed to restore queued actions", "error", err)
	}

	feedService := feed.NewService(loop, store, coordinator, logger)

	if cfg.JetstreamURL != "" {
		consumer := jetstream.NewTimelineConsumer(feedService, cfg.JetstreamTimeline, logger)
		connector := jetstream.NewConnector(consumer, cfg.JetstreamURL, logger)
		go func() {
			if err := connector.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("jetstream connector stopped", "error", err)
			}
		}()
		logger.Info("jetstream ingestion enabled", "url", cfg.JetstreamURL, "timeline", cfg.JetstreamTimeline)
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, 1*time.Minute)
	defer rateLimiter.Stop()
	r.Use(rateLimiter.Middleware)

	routes.RegisterTimelineRoutes(r, routes.TimelineDeps{
		Feed:    feedService,
		States:  coordinator,
		Fetcher: fetcher,
		Account: account,
	})
	routes.RegisterActionRoutes(r, coordinator)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"online": monitor.Online(),
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("skein starting", "port", cfg.Port, "probe_url", cfg.ProbeURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	// Deferred in reverse: coordinator.Close re-queues in-flight calls through
	// the loop, so it runs before loop.Close and db.Close.
	return nil
}

func openDatabase(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "internal/db/migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
