// memodrill-train runs the parameter-fitting job: once with -once, or on the
// configured cron schedule otherwise.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/joho/godotenv"

	"github.com/memodrill/memodrill/internal/config"
	"github.com/memodrill/memodrill/internal/optimizer"
	"github.com/memodrill/memodrill/internal/storage"
	"github.com/memodrill/memodrill/internal/storage/postgres"
	"github.com/memodrill/memodrill/internal/storage/sqlite"
)

func main() {
	once := flag.Bool("once", false, "run one training batch and exit")
	flag.Parse()

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

	trainer := optimizer.NewTrainer(store, optimizer.Config{
		MaxIterations: cfg.Optimizer.MaxIterations,
		LearningRate:  cfg.Optimizer.LearningRate,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		if err := trainer.Run(ctx); err != nil {
			log.Fatalf("Training failed: %v", err)
		}
		return
	}

	sched := gocron.NewScheduler(time.UTC)
	if _, err := sched.Cron(cfg.Optimizer.Schedule).Do(func() {
		if err := trainer.Run(ctx); err != nil {
			log.Printf("Training batch failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Invalid schedule %q: %v", cfg.Optimizer.Schedule, err)
	}
	sched.StartAsync()
	log.Printf("Trainer scheduled: %s", cfg.Optimizer.Schedule)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received %s, stopping...", sig)
	trainer.Stop() // finish the in-flight fit, skip the rest
	sched.Stop()
	cancel()
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
