package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"chapterflow/internal/api"
	"chapterflow/internal/config"
	"chapterflow/internal/logger"
	"chapterflow/internal/storage"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
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

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Logger: lg})
	if err != nil {
		lg.Fatal("dial temporal", "error", err)
	}
	defer c.Close()

	srv, err := api.NewServer(cfg, db, c, lg)
	if err != nil {
		lg.Fatal("build api server", "error", err)
	}
	lg.Info("chapterflow api listening",
		"addr", cfg.APIAddr,
		"llm_providers", cfg.LLMProviders,
		"embed_providers", cfg.EmbedProviders,
	)
	if err := http.ListenAndServe(cfg.APIAddr, srv.Routes()); err != nil {
		lg.Fatal("api stopped", "error", err)
	}
}
