package main

import (
	"log"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/tospeech/server/internal/api"
	"github.com/tospeech/server/internal/config"
	"github.com/tospeech/server/internal/dispatch"
	"github.com/tospeech/server/internal/gateway"
	"github.com/tospeech/server/internal/history"
	"github.com/tospeech/server/internal/queue"
	"github.com/tospeech/server/internal/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.LinkSecret == "" {
		log.Fatal("TOSPEECH_LINK_SECRET must be set")
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("tospeech: starting",
		"listen_addr", cfg.ListenAddr,
		"nats_url", cfg.NATSURL,
		"db_path", cfg.DBPath,
	)

	if err := os.MkdirAll(cfg.ArtifactDir, 0o750); err != nil {
		log.Fatalf("failed to create artifact directory: %v", err)
	}

	db, err := history.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("tospeech-api"))
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

	dispatcher := dispatch.New(st, q, logger)
	signer := gateway.NewSigner(cfg.LinkSecret, cfg.ArtifactDir, cfg.LinkTTL)

	srv := api.NewServer(cfg.ListenAddr, dispatcher, db, signer, cfg.ModelsDir, cfg.VoicesDir, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
