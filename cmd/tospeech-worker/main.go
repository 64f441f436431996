package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/tospeech/server/internal/config"
	"github.com/tospeech/server/internal/history"
	"github.com/tospeech/server/internal/queue"
	"github.com/tospeech/server/internal/state"
	"github.com/tospeech/server/internal/synth"
	"github.com/tospeech/server/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("tospeech-worker: starting",
		"nats_url", cfg.NATSURL,
		"models_dir", cfg.ModelsDir,
		"job_timeout", cfg.JobTimeout,
	)

	if err := os.MkdirAll(cfg.ArtifactDir, 0o750); err != nil {
		log.Fatalf("failed to create artifact directory: %v", err)
	}

	db, err := history.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("tospeech-worker"))
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		log.Fatalf("failed to open JetStream context: %v", err)
	}

	st, err := state.New(js, cfg.CancelTTL)
	if err != nil {
		log.Fatalf("failed to open state store: %v", err)
	}
	q, err := queue.New(nc, js)
	if err != nil {
		log.Fatalf("failed to open job queue: %v", err)
	}

	synthLog := logrus.New()
	synthLog.SetFormatter(&logrus.JSONFormatter{})

	loader := &synth.EngineLoader{
		ModelsDir:  cfg.ModelsDir,
		RunnerBin:  cfg.RunnerBin,
		ListenAddr: cfg.EngineAddr,
		Device:     cfg.Device,
		Log:        synthLog,
	}
	cache := synth.NewCache(loader, synthLog)
	defer cache.Close()

	engine := worker.New(st, q, db, cache, worker.Config{
		VoicesDir:   cfg.VoicesDir,
		ArtifactDir: cfg.ArtifactDir,
		JobTimeout:  cfg.JobTimeout,
		Concurrency: cfg.Workers,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Run(ctx); err != nil {
		log.Fatalf("worker error: %v", err)
	}
	logger.Info("tospeech-worker: stopped")
}
