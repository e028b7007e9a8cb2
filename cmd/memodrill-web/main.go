package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/memodrill/memodrill/internal/config"
	"github.com/memodrill/memodrill/internal/scheduler"
	"github.com/memodrill/memodrill/internal/selection"
	"github.com/memodrill/memodrill/internal/server"
	"github.com/memodrill/memodrill/internal/session"
	"github.com/memodrill/memodrill/internal/storage"
	"github.com/memodrill/memodrill/internal/storage/postgres"
	"github.com/memodrill/memodrill/internal/storage/sqlite"
)

func main() {
	// Optional: a .env file next to the binary seeds the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	provider := selection.NewBreaker(newContentClient(cfg.Selection.ContentProviderURL))
	access := newAccessClient(cfg.Selection.ContentProviderURL)

	selector := selection.NewEngine(provider, access, store,
		selection.WithHardThreshold(cfg.Selection.HardThreshold))
	sessions := session.NewEngine(store, selector, scheduler.Config{
		DesiredRetention: cfg.Scheduler.DesiredRetention,
		MaximumInterval:  cfg.Scheduler.MaximumIntervalDay,
		DisableFuzzing:   cfg.Scheduler.DisableFuzzing,
	})

	srv := server.New(cfg, sessions, selector)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down...", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Engine == "postgres" {
		return postgres.Open(cfg.Storage.PostgresDSN)
	}
	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.Storage.DataPath + "/memodrill.db")
}

// newContentClient and newAccessClient talk to the content platform's
// internal API.
func newContentClient(baseURL string) selection.ContentProvider {
	return selection.NewHTTPContentClient(baseURL, &http.Client{Timeout: 10 * time.Second})
}

func newAccessClient(baseURL string) selection.AccessController {
	return selection.NewHTTPAccessClient(baseURL, &http.Client{Timeout: 5 * time.Second})
}
