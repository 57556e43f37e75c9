// Package main is the entry point for the rental calendar feed sync server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rental-feed-sync/backend/internal/api"
	"github.com/rental-feed-sync/backend/internal/calendar"
	"github.com/rental-feed-sync/backend/internal/config"
	"github.com/rental-feed-sync/backend/internal/logging"
	"github.com/rental-feed-sync/backend/internal/storage"
	"github.com/rental-feed-sync/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		if err := runHealthCheck(cfg.Listen); err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	logging.Init("feedsync", cfg.LogLevel)
	logging.Logger.Infof("Starting rental feed sync (version: %s)...", version)

	if err := run(cfg); err != nil {
		logging.Logger.Fatalf("Server error: %v", err)
	}
	logging.Logger.Info("Server stopped")
}

func run(cfg *config.Config) error {
	db, err := storage.NewDB(filepath.Join(cfg.DataDir, "feedsync.db"))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logging.Logger.Info("Database migrations complete")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	feedRepo := storage.NewFeedRepository(db)
	reservationRepo := storage.NewReservationRepository(db)

	fetcher := calendar.NewFetcher(
		calendar.WithTimeout(cfg.Sync.FetchTimeout),
		calendar.WithUserAgent(cfg.Sync.UserAgent),
		calendar.WithMaxBodyBytes(cfg.Sync.MaxBodyBytes),
		calendar.WithConditionalFetch(cfg.ConditionalFetchEnabled()),
		calendar.WithCircuitBreaker(cfg.Sync.BreakerFailures, cfg.Sync.BreakerCooldown),
	)
	parser := calendar.NewParser(calendar.WithLocation(cfg.Location()))
	reconciler := calendar.NewReconciler(reservationRepo, calendar.ReconcilePolicy{
		DefaultGuestCount: cfg.Reservations.DefaultGuestCount,
		AllowUncancel:     cfg.UncancelAllowed(),
	})

	syncService := calendar.NewSyncService(
		feedRepo,
		fetcher,
		parser,
		reconciler,
		calendar.WithNotifier(websocket.NewEventBroadcaster(hub)),
		calendar.WithConcurrency(cfg.Sync.Concurrency),
	)
	feedService := calendar.NewFeedService(feedRepo)

	scheduler := calendar.NewScheduler()
	if err := scheduler.Register(calendar.SweepJob(syncService, cfg.Sync.Interval)); err != nil {
		return fmt.Errorf("registering sweep job: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(api.Services{
		DB:           db,
		Hub:          hub,
		Feeds:        feedService,
		Sync:         syncService,
		Reservations: reservationRepo,
		Scheduler:    scheduler,
	})

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Sync.FetchTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Logger.Infof("Server listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logging.Logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(listen string) error {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return fmt.Errorf("parsing listen address: %w", err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort(host, port) + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
