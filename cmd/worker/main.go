package main

import (
	"context"
	"log"
	"time"

	"chapterflow/internal/activities"
	"chapterflow/internal/config"
	"chapterflow/internal/logger"
	"chapterflow/internal/neo4jdb"
	"chapterflow/internal/storage"
	"chapterflow/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatal(err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		lg.Fatal("connect postgres", "error", err)
	}
	defer db.Close()
	if err := storage.EnsureSchema(ctx, db); err != nil {
		lg.Fatal("ensure schema", "error", err)
	}

	neo, err := neo4jdb.New(cfg, lg)
	if err != nil {
		// The mirror is optional; publication goes to Postgres regardless.
		lg.Warn("neo4j mirror disabled", "error", err)
	}
	defer func() {
		_ = neo.Close(context.Background())
	}()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Logger: lg})
	if err != nil {
		lg.Fatal("dial temporal", "error", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	a, err := activities.New(cfg, db, neo, lg)
	if err != nil {
		lg.Fatal("build activities", "error", err)
	}
	activities.Register(w, a)

	lg.Info("chapterflow worker listening",
		"temporal", cfg.TemporalAddress,
		"queue", cfg.TemporalTaskQueue,
		"llm_providers", cfg.LLMProviders,
		"embed_providers", cfg.EmbedProviders,
		"neo4j_mirror", neo != nil,
	)
	if err := w.Run(worker.InterruptCh()); err != nil {
		lg.Fatal("worker stopped", "error", err)
	}
}
